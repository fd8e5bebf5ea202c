package api

import (
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"jobtrail/cache"
	"jobtrail/mailapi"
	"jobtrail/utils"
)

// ThreadsHandler serves mail threads cache-first: reads come from the local
// cache instantly, refreshes reconcile with the mail server and write back
// through the cache.
type ThreadsHandler struct {
	cache *cache.Facade
	mail  *mailapi.Client
	log   *utils.Logger
}

// NewThreadsHandler creates a threads handler. mail may be nil, in which
// case the handler serves cached data only.
func NewThreadsHandler(cacheFacade *cache.Facade, mail *mailapi.Client, log *utils.Logger) *ThreadsHandler {
	return &ThreadsHandler{cache: cacheFacade, mail: mail, log: log}
}

// HandleList returns the cached thread summaries. With ?refresh=1, or when
// the cache is empty, it reconciles with the mail server first and queues
// prefetches for threads whose details are not cached yet.
func (h *ThreadsHandler) HandleList(c *fiber.Ctx) error {
	refresh := c.QueryBool("refresh")
	summaries := h.cache.GetSummaries()
	refreshed := false

	if h.mail != nil && (refresh || len(summaries) == 0) {
		fresh, err := h.mail.FetchThreadSummaries(c.Context(), c.Query("folder"), uint32(c.QueryInt("limit", 0)))
		if err != nil {
			h.log.Error("Summary refresh failed: %v", err)
			if len(summaries) == 0 {
				return utils.BadGatewayError("Failed to load threads from the mail server", err)
			}
			// Serve the cached copy we still have.
		} else {
			h.cache.SetSummaries(fresh)
			now := time.Now()
			h.cache.UpdateMeta(cache.MetadataPatch{LastRefresh: &now})

			ids := make([]string, 0, len(fresh))
			for _, s := range fresh {
				ids = append(ids, s.ID)
			}
			h.cache.QueuePrefetch(ids...)

			summaries = h.cache.GetSummaries()
			refreshed = true
		}
	}

	return c.JSON(fiber.Map{
		"threads":   summaries,
		"count":     len(summaries),
		"refreshed": refreshed,
	})
}

// HandleGet returns a full thread, from the cache when possible. A cache
// miss (or ?refresh=1) fetches from the mail server and caches the result.
func (h *ThreadsHandler) HandleGet(c *fiber.Ctx) error {
	id := c.Params("id")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" {
		return utils.BadRequestError("Thread id is required", nil)
	}

	if !c.QueryBool("refresh") {
		if t := h.cache.GetThread(id); t != nil {
			return c.JSON(fiber.Map{"thread": t, "cached": true})
		}
	}

	if h.mail == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Thread not cached"})
	}

	t, err := h.mail.FetchThread(c.Context(), id)
	if err != nil {
		h.log.Error("Thread fetch failed for %s: %v", id, err)
		if cached := h.cache.GetThread(id); cached != nil {
			return c.JSON(fiber.Map{"thread": cached, "cached": true})
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Thread not found"})
	}

	h.cache.SetThread(t)
	return c.JSON(fiber.Map{"thread": t, "cached": false})
}

type prefetchRequest struct {
	IDs []string `json:"ids"`
}

// HandlePrefetch queues background hydration for the given thread IDs.
func (h *ThreadsHandler) HandlePrefetch(c *fiber.Ctx) error {
	var req prefetchRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request body", err)
	}
	if len(req.IDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No thread ids given"})
	}

	h.cache.QueuePrefetch(req.IDs...)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"queued":  len(req.IDs),
		"pending": h.cache.Status().PrefetchPending,
	})
}

// HandleStatus reports backend selection, entry counts, and prefetch
// activity.
func (h *ThreadsHandler) HandleStatus(c *fiber.Ctx) error {
	return c.JSON(h.cache.Status())
}

// HandleClear empties the mail cache.
func (h *ThreadsHandler) HandleClear(c *fiber.Ctx) error {
	h.cache.ClearCache()
	return c.JSON(fiber.Map{"message": "Mail cache cleared"})
}
