package handler

import (
	"encoding/json"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/stemsplit/api/internal/model"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/pkg/response"
)

// WebhookHandler ingests signed progress callbacks from the separation
// worker. Signature verification happens in middleware before this handler
// runs; everything past that point is acknowledged with a 200 so the sender
// never retries on application-level errors. Only a store outage gets a 5xx,
// because a retry is then both wanted and safe under the version guard.
type WebhookHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewWebhookHandler(svc *service.JobService, v *validator.Validate) *WebhookHandler {
	return &WebhookHandler{
		service:   svc,
		validator: v,
	}
}

// HandleSeparatorEvent handles POST /api/webhooks/separator
func (h *WebhookHandler) HandleSeparatorEvent(c *fiber.Ctx) error {
	var evt model.Event
	if err := json.Unmarshal(c.Body(), &evt); err != nil {
		log.Printf("Webhook: malformed payload: %v", err)
		return response.OK(c, model.WebhookAck{OK: true, Ignored: "invalid"})
	}

	if err := h.validator.Struct(&evt); err != nil {
		log.Printf("Webhook: invalid event shape: %v", err)
		return response.OK(c, model.WebhookAck{OK: true, Ignored: "invalid"})
	}
	if err := evt.Validate(); err != nil {
		log.Printf("Webhook: invalid %s event for job %s: %v", evt.Kind(), evt.JobID, err)
		return response.OK(c, model.WebhookAck{OK: true, Ignored: "invalid"})
	}

	_, applied, err := h.service.ApplyEvent(c.Context(), &evt)
	if err != nil {
		log.Printf("Webhook: failed to apply event for job %s: %v", evt.JobID, err)
		return response.StoreUnavailable(c, "Failed to apply event")
	}
	if !applied {
		return response.OK(c, model.WebhookAck{OK: true, Ignored: "stale"})
	}

	return response.OK(c, model.WebhookAck{OK: true})
}
