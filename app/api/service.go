package api

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"groupchat/app/config"
	"groupchat/app/service/conversation"
	"groupchat/app/service/settings"
	"groupchat/app/store/messages"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
	"github.com/valyala/fasthttp"
)

var _ do.Shutdownable = (*Service)(nil)

// Service exposes the conversation engine over HTTP: message feed, inbound
// messages, assistant settings and a live event stream per conversation.
type Service struct {
	cfg             *config.Config
	conversationSvc *conversation.Service
	msgStore        *messages.Service

	app *fiber.App
}

func New(di *do.Injector) (*Service, error) {
	s := &Service{
		cfg:             do.MustInvoke[*config.Config](di),
		conversationSvc: do.MustInvoke[*conversation.Service](di),
		msgStore:        do.MustInvoke[*messages.Service](di),
	}

	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	s.registerRoutes()

	return s, nil
}

func (s *Service) registerRoutes() {
	conversations := s.app.Group("/conversations/:id")

	conversations.Get("/messages", s.listMessages)
	conversations.Post("/messages", s.postMessage)
	conversations.Delete("/messages", s.clearMessages)
	conversations.Get("/assistant", s.getAssistant)
	conversations.Put("/assistant", s.putAssistant)
	conversations.Get("/events", s.streamEvents)
}

func (s *Service) Run() error {
	slog.Info("HTTP API listening", "addr", s.cfg.Server.Addr)

	return s.app.Listen(s.cfg.Server.Addr)
}

func (s *Service) Shutdown() error {
	return s.app.Shutdown()
}

type postMessageRequest struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
}

type postMessageResponse struct {
	Message messages.Message     `json:"message"`
	Reply   *messages.Message    `json:"reply,omitempty"`
	Outcome conversation.Outcome `json:"outcome"`
}

func (s *Service) postMessage(c *fiber.Ctx) error {
	var req postMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.SenderID) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "senderId and text are required")
	}

	msg := messages.Message{
		ConversationID: c.Params("id"),
		SenderID:       req.SenderID,
		SenderName:     req.SenderName,
		Text:           req.Text,
	}

	reply, outcome, err := s.conversationSvc.HandleIncoming(c.Context(), msg)
	if err != nil {
		slog.Error("Failed to handle message",
			"conversation_id", msg.ConversationID,
			"error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to handle message")
	}

	return c.JSON(postMessageResponse{
		Message: msg,
		Reply:   reply,
		Outcome: outcome,
	})
}

func (s *Service) listMessages(c *fiber.Ctx) error {
	stored, err := s.msgStore.List(c.Context(), c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list messages")
	}

	if stored == nil {
		stored = []messages.Message{}
	}

	return c.JSON(stored)
}

func (s *Service) clearMessages(c *fiber.Ctx) error {
	if err := s.conversationSvc.Clear(c.Context(), c.Params("id")); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to clear conversation")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type assistantResponse struct {
	ConversationID     string `json:"conversationId"`
	AssistantName      string `json:"assistantName"`
	CustomInstructions string `json:"customInstructions,omitempty"`
	HasAPIKey          bool   `json:"hasApiKey"`
}

func (s *Service) getAssistant(c *fiber.Ctx) error {
	return c.JSON(toAssistantResponse(s.conversationSvc.Settings(c.Params("id"))))
}

func (s *Service) putAssistant(c *fiber.Ctx) error {
	var update settings.Update
	if err := c.BodyParser(&update); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	assistant := s.conversationSvc.UpdateSettings(c.Params("id"), update)

	return c.JSON(toAssistantResponse(assistant))
}

func toAssistantResponse(assistant settings.Assistant) assistantResponse {
	return assistantResponse{
		ConversationID:     assistant.ConversationID,
		AssistantName:      assistant.AssistantName,
		CustomInstructions: assistant.CustomInstructions,
		HasAPIKey:          assistant.APIKey != "",
	}
}

// streamEvents sends every message appended to the conversation as a
// server-sent event until the client disconnects.
func (s *Service) streamEvents(c *fiber.Ctx) error {
	conversationID := c.Params("id")

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	ctx, cancel := context.WithCancel(context.Background())
	feed := s.msgStore.Subscribe(ctx, conversationID)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		for msg := range feed {
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}

			if _, err = w.WriteString("data: " + string(data) + "\n\n"); err != nil {
				return
			}
			if err = w.Flush(); err != nil {
				return
			}
		}
	}))

	return nil
}
