package httpapi

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/net-tools/mailqueue"
)

// QueueResponse describes one queue.
type QueueResponse struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Count         int        `json:"count"`
	SendOffset    int        `json:"send_offset"`
	Pending       int        `json:"pending"`
	BatchCount    int        `json:"batch_count"`
	Volume        int64      `json:"volume"`
	Locked        bool       `json:"locked"`
	Date          time.Time  `json:"date"`
	LastBatchDate *time.Time `json:"last_batch_date,omitempty"`
	SendLog       []string   `json:"send_log,omitempty"`
}

// RecipientResponse describes one queued item.
type RecipientResponse struct {
	Index  int    `json:"index"`
	To     string `json:"to"`
	Status string `json:"status"`
}

// CreateRequest creates a queue.
type CreateRequest struct {
	Title      string `json:"title"`
	BatchCount int    `json:"batch_count"`
}

// RenameRequest renames a queue.
type RenameRequest struct {
	Title string `json:"title"`
}

// ResendRequest overrides routing of a resent item.
type ResendRequest struct {
	Bcc string `json:"bcc"`
	To  string `json:"to"`
}

// SendResponse reports one batch.
type SendResponse struct {
	Queue    QueueResponse `json:"queue"`
	Failures []string      `json:"failures,omitempty"`
}

func newQueueResponse(q *mailqueue.Queue, withLog bool) QueueResponse {
	resp := QueueResponse{
		ID:         q.ID(),
		Title:      q.Title(),
		Count:      q.Count(),
		SendOffset: q.SendOffset(),
		Pending:    q.Pending(),
		BatchCount: q.BatchCount(),
		Volume:     q.Volume(),
		Locked:     q.Locked(),
		Date:       q.Date(),
	}
	if last, ok := q.LastBatchDate(); ok {
		resp.LastBatchDate = &last
	}
	if withLog {
		resp.SendLog = q.SendLog()
	}

	return resp
}

func (s *Server) listQueues(c *fiber.Ctx) error {
	key := mailqueue.SortKey(c.Query("sort", string(mailqueue.SortByDate)))
	order := mailqueue.SortOrder(c.Query("order", string(mailqueue.Ascending)))

	var out []QueueResponse
	err := s.locked(func() error {
		queues, err := s.store.List(key, order)
		if err != nil {
			return err
		}
		out = make([]QueueResponse, 0, len(queues))
		for _, q := range queues {
			out = append(out, newQueueResponse(q, false))
		}

		return nil
	})
	if err != nil {
		return err
	}

	return c.JSON(out)
}

func (s *Server) createQueue(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Title) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}

	var resp QueueResponse
	err := s.locked(func() error {
		q, err := s.store.CreateQueue(req.Title, req.BatchCount)
		if err != nil {
			return err
		}
		resp = newQueueResponse(q, true)

		return nil
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// withQueue resolves the :id parameter and runs fn under the store lock.
func (s *Server) withQueue(c *fiber.Ctx, fn func(q *mailqueue.Queue) error) error {
	return s.locked(func() error {
		q, err := s.store.Queue(c.Params("id"))
		if err != nil {
			return err
		}

		return fn(q)
	})
}

func (s *Server) getQueue(c *fiber.Ctx) error {
	var resp QueueResponse
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		resp = newQueueResponse(q, true)
		return nil
	}); err != nil {
		return err
	}

	return c.JSON(resp)
}

func (s *Server) renameQueue(c *fiber.Ctx) error {
	var req RenameRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}

	var resp QueueResponse
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		if err := q.Rename(req.Title); err != nil {
			return err
		}
		resp = newQueueResponse(q, false)

		return nil
	}); err != nil {
		return err
	}

	return c.JSON(resp)
}

func (s *Server) deleteQueue(c *fiber.Ctx) error {
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		return q.Delete()
	}); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) unlockQueue(c *fiber.Ctx) error {
	var resp QueueResponse
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		if err := q.Unlock(); err != nil {
			return err
		}
		resp = newQueueResponse(q, false)

		return nil
	}); err != nil {
		return err
	}

	return c.JSON(resp)
}

func (s *Server) clearLog(c *fiber.Ctx) error {
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		return q.ClearLog()
	}); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) sendBatch(c *fiber.Ctx) error {
	var resp SendResponse
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		err := q.Send(c.UserContext(), s.mailer, s.cfg.Headers)
		var sendErr *mailqueue.SendError
		if errors.As(err, &sendErr) {
			resp.Failures = sendErr.Failures
			err = nil
		}
		if err != nil {
			return err
		}
		resp.Queue = newQueueResponse(q, false)

		return nil
	}); err != nil {
		return err
	}

	return c.JSON(resp)
}

func (s *Server) queueFromErrors(c *fiber.Ctx) error {
	var req RenameRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "title is required")
	}

	var resp QueueResponse
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		target, err := q.NewQueueFromErrors(req.Title)
		if err != nil {
			return err
		}
		resp = newQueueResponse(target, false)

		return nil
	}); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (s *Server) exportMbox(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		_, err := q.ExportMbox(&buf)
		return err
	}); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/mbox")

	return c.Send(buf.Bytes())
}

func (s *Server) pushMessage(c *fiber.Ctx) error {
	raw := append([]byte(nil), c.Body()...)

	var resp QueueResponse
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		if err := q.PushMessage(raw); err != nil {
			return err
		}
		if err := q.Commit(); err != nil {
			return err
		}
		resp = newQueueResponse(q, false)

		return nil
	}); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (s *Server) listRecipients(c *fiber.Ctx) error {
	var out []RecipientResponse
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		recipients := q.Recipients()
		out = make([]RecipientResponse, 0, len(recipients))
		for _, r := range recipients {
			out = append(out, RecipientResponse{Index: r.Index, To: r.To, Status: r.Status.String()})
		}

		return nil
	}); err != nil {
		return err
	}

	return c.JSON(out)
}

func (s *Server) search(c *fiber.Ctx) error {
	to := c.Query("to")
	if to == "" {
		return fiber.NewError(fiber.StatusBadRequest, "to is required")
	}

	index := -1
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		var err error
		index, err = q.Search(to)

		return err
	}); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"index": index, "to": to})
}

func itemIndex(c *fiber.Ctx) (int, error) {
	index, err := c.ParamsInt("index")
	if err != nil || index < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "index must be a non-negative integer")
	}

	return index, nil
}

func (s *Server) itemEML(c *fiber.Ctx) error {
	index, err := itemIndex(c)
	if err != nil {
		return err
	}

	var eml string
	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		eml, err = q.EMLAt(index)
		return err
	}); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "message/rfc822")

	return c.SendString(eml)
}

func (s *Server) resendItem(c *fiber.Ctx) error {
	index, err := itemIndex(c)
	if err != nil {
		return err
	}
	var req ResendRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		return q.Resend(c.UserContext(), s.mailer, index, mailqueue.ResendOptions{Bcc: req.Bcc, To: req.To})
	}); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) markItemError(c *fiber.Ctx) error {
	index, err := itemIndex(c)
	if err != nil {
		return err
	}

	if err := s.withQueue(c, func(q *mailqueue.Queue) error {
		return q.RecipientError(index)
	}); err != nil {
		return err
	}

	return c.SendStatus(fiber.StatusNoContent)
}
