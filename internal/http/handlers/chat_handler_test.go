package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dscpl/go-dscpl-backend/internal/domain"
	"github.com/dscpl/go-dscpl-backend/internal/services"
)

// ---------- helpers-only tests ----------

func Test_clampPagination_and_sanitizeContent(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// clampPagination bounds
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest("GET", "/?page=-5&page_size=9999", nil)
	c.Request = req
	p, ps := clampPagination(c)
	if p != 1 || ps != 100 {
		t.Fatalf("clamp bounds got p=%d ps=%d", p, ps)
	}
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	req = httptest.NewRequest("GET", "/?page=&page_size=0", nil)
	c.Request = req
	p, ps = clampPagination(c)
	if p != 1 || ps != 1 {
		t.Fatalf("clamp defaults got p=%d ps=%d", p, ps)
	}

	// sanitizeContent normalizes newlines and trims
	in := "  a\r\nb\r\rc\n\n\n\nd  "
	want := "a\nb\n\nc\n\nd"
	if got := sanitizeContent(in); got != want {
		t.Fatalf("sanitize got %q want %q", got, want)
	}
}

// ---------- PostMessage ----------

func TestPostMessage_Validation_ErrorMapping_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	id := uuid.NewString()

	newRouter := func(svc stubChatSvc) *gin.Engine {
		h := newStubHandlers(stubProgramSvc{}, stubProgressSvc{}, svc)
		r := gin.New()
		r.POST("/sessions/:id/messages", h.PostMessage)
		return r
	}

	// bad UUID -> 400
	{
		r := newRouter(stubChatSvc{})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sessions/not-uuid/messages", bytes.NewBufferString(`{"content":"hi"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("uuid 400 -> %d", w.Code)
		}
	}

	// whitespace-only content -> 400 after sanitization
	{
		r := newRouter(stubChatSvc{})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/messages", bytes.NewBufferString(`{"content":"  \r\n  "}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("blank content -> %d", w.Code)
		}
	}

	// oversized content -> 400 at the edge (no service call)
	{
		called := false
		r := newRouter(stubChatSvc{
			answer: func(context.Context, string, string) (*domain.ConversationMessage, error) {
				called = true
				return nil, nil
			},
		})
		w := httptest.NewRecorder()
		big := strings.Repeat("x", 5000)
		req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/messages", bytes.NewBufferString(`{"content":"`+big+`"}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("oversize -> %d", w.Code)
		}
		if called {
			t.Fatalf("service called for oversized prompt")
		}
	}

	// service error mapping
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", services.ErrSessionNotFound, http.StatusNotFound},
		{"too long", services.ErrTooLong, http.StatusBadRequest},
		{"empty", services.ErrEmptyPrompt, http.StatusBadRequest},
		{"internal", gorm.ErrInvalidField, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := newRouter(stubChatSvc{
			answer: func(context.Context, string, string) (*domain.ConversationMessage, error) {
				return nil, tc.err
			},
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/messages", bytes.NewBufferString(`{"content":"hello"}`))
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Fatalf("%s -> %d (want %d)", tc.name, w.Code, tc.want)
		}
	}

	// success with sanitized content passed through
	{
		var gotContent string
		r := newRouter(stubChatSvc{
			answer: func(_ context.Context, sid, prompt string) (*domain.ConversationMessage, error) {
				gotContent = prompt
				return &domain.ConversationMessage{SessionID: sid, Role: "assistant", Content: "reply"}, nil
			},
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sessions/"+id+"/messages", bytes.NewBufferString(`{"content":"  hello\r\nthere  "}`))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("post -> %d body=%s", w.Code, w.Body.String())
		}
		if gotContent != "hello\nthere" {
			t.Fatalf("content not sanitized: %q", gotContent)
		}
		var out PostMessageResponse
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.Message == nil || out.Message.Content != "reply" {
			t.Fatalf("unexpected response: %#v", out)
		}
	}
}

// ---------- ListMessages ----------

func TestListMessages_Pagination_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	id := uuid.NewString()

	// not found
	{
		h := newStubHandlers(stubProgramSvc{}, stubProgressSvc{}, stubChatSvc{
			listPage: func(context.Context, string, int, int) ([]domain.ConversationMessage, int64, error) {
				return nil, 0, services.ErrSessionNotFound
			},
		})
		r := gin.New()
		r.GET("/sessions/:id/messages", h.ListMessages)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/messages", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Fatalf("not found -> %d", w.Code)
		}
	}

	// page metadata
	{
		h := newStubHandlers(stubProgramSvc{}, stubProgressSvc{}, stubChatSvc{
			listPage: func(_ context.Context, sid string, page, pageSize int) ([]domain.ConversationMessage, int64, error) {
				return []domain.ConversationMessage{{SessionID: sid, Role: "user", Content: "hi"}}, 3, nil
			},
		})
		r := gin.New()
		r.GET("/sessions/:id/messages", h.ListMessages)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/sessions/"+id+"/messages?page=1&page_size=1", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("list -> %d body=%s", w.Code, w.Body.String())
		}
		var out ListMessagesResponse
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("json: %v", err)
		}
		if out.Pagination.Total != 3 || out.Pagination.TotalPages != 3 || !out.Pagination.HasNext {
			t.Fatalf("pagination mismatch: %#v", out.Pagination)
		}
		if len(out.Messages) != 1 {
			t.Fatalf("expected 1 message")
		}
	}
}
