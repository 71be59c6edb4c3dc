package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/deemkeen/chatterpub/activitypub"
	"github.com/deemkeen/chatterpub/domain"
	"github.com/gin-gonic/gin"
)

// HandleSubmit accepts a signed activity posted to an actor's outbox.
func HandleSubmit(c *gin.Context, engine *activitypub.Engine) {
	var sub activitypub.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	// the path actor must be the one signing the envelope
	if actor, _ := sub.Activity["actor"].(string); actor != c.Param("did") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path actor does not match activity actor"})
		return
	}

	id, err := engine.Ingest(c.Request.Context(), sub)
	if err != nil {
		log.Printf("Submit: rejected activity from %s: %v", c.Param("did"), err)
		c.JSON(statusFor(err), gin.H{
			"error":     err.Error(),
			"retryable": domain.Retryable(err),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

// HandleInbox returns one page of the actor's received activities.
func HandleInbox(c *gin.Context, engine *activitypub.Engine) {
	page, err := engine.GetInbox(c.Param("did"), c.Query("cursor"), queryLimit(c))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pageBody(page))
}

// HandleOutbox returns one page of the actor's authored activities.
func HandleOutbox(c *gin.Context, engine *activitypub.Engine) {
	page, err := engine.GetOutbox(c.Param("did"), c.Query("cursor"), queryLimit(c))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pageBody(page))
}

// HandleActor returns an actor record by DID.
func HandleActor(c *gin.Context, engine *activitypub.Engine) {
	actor, err := engine.GetActor(c.Param("did"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"did":       actor.DID,
		"name":      actor.Name,
		"createdAt": actor.CreatedAt,
	})
}

// HandleObject returns a stored object by content address.
func HandleObject(c *gin.Context, engine *activitypub.Engine) {
	object, err := engine.GetObject(c.Param("cid"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(object.Content))
}

// HandleActivity returns a stored activity envelope by content address.
func HandleActivity(c *gin.Context, engine *activitypub.Engine) {
	activity, err := engine.GetActivity(c.Param("cid"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(activity.RawJSON))
}

func pageBody(page *domain.Page) gin.H {
	items := make([]json.RawMessage, 0, len(page.Activities))
	for _, activity := range page.Activities {
		items = append(items, json.RawMessage(activity.RawJSON))
	}
	body := gin.H{"orderedItems": items}
	if page.NextCursor != "" {
		body["next"] = page.NextCursor
	}
	return body
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		return 0
	}
	return limit
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEncoding),
		errors.Is(err, domain.ErrInvalidActivity),
		errors.Is(err, domain.ErrAddressMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnresolvableIdentity):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrPersistenceFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
