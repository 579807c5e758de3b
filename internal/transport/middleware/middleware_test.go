package middleware_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	chiMiddleware "github.com/go-chi/chi/middleware"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/cashback-settlement/internal"
	"github.com/frahmantamala/cashback-settlement/internal/transport/middleware"
)

type stubAuthenticator struct {
	tokens map[string]internal.Actor
}

func (s stubAuthenticator) Authenticate(token string) (internal.Actor, error) {
	if token == "expired" {
		return internal.Actor{}, internal.ErrTokenExpired
	}
	actor, ok := s.tokens[token]
	if !ok {
		return internal.Actor{}, internal.ErrInvalidToken
	}
	return actor, nil
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	Expect(json.NewDecoder(w.Body).Decode(&body)).To(Succeed())
	return body.Error.Code
}

var _ = Describe("Middleware", func() {
	var (
		logs    *bytes.Buffer
		slogger *slog.Logger
		authn   stubAuthenticator
		seen    *internal.Actor
		final   http.Handler
	)

	BeforeEach(func() {
		logs = &bytes.Buffer{}
		slogger = slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
		authn = stubAuthenticator{tokens: map[string]internal.Actor{
			"owner": {Type: internal.ActorBusinessUser, ID: "user-1", BusinessID: "biz-1"},
			"admin": {Type: internal.ActorAdminUser, ID: "admin-1"},
		}}
		seen = nil
		final = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor, ok := internal.ActorFromContext(r.Context()); ok {
				seen = &actor
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	Describe("Authenticate", func() {
		serve := func(header string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			middleware.Authenticate(authn, slogger)(final).ServeHTTP(w, req)
			return w
		}

		It("should put the actor into the request context", func() {
			w := serve("Bearer owner")

			Expect(w.Code).To(Equal(http.StatusNoContent))
			Expect(seen).NotTo(BeNil())
			Expect(seen.BusinessID).To(Equal("biz-1"))
		})

		It("should reject a missing token", func() {
			w := serve("")

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			Expect(errorCode(w)).To(Equal(string(internal.ErrCodeInvalidToken)))
			Expect(seen).To(BeNil())
		})

		It("should reject a non bearer scheme", func() {
			w := serve("Basic b3duZXI6")

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should report expired tokens", func() {
			w := serve("Bearer expired")

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
			Expect(errorCode(w)).To(Equal(string(internal.ErrCodeTokenExpired)))
		})
	})

	Describe("RequireAdmin", func() {
		serve := func(token string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/admin/sweep", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			middleware.Authenticate(authn, slogger)(middleware.RequireAdmin(slogger)(final)).ServeHTTP(w, req)
			return w
		}

		It("should let administrators through", func() {
			Expect(serve("admin").Code).To(Equal(http.StatusNoContent))
		})

		It("should refuse business users", func() {
			w := serve("owner")

			Expect(w.Code).To(Equal(http.StatusForbidden))
			Expect(errorCode(w)).To(Equal(string(internal.ErrCodeAdminRequired)))
		})
	})

	Describe("RecoveryMiddleware", func() {
		It("should turn a panic into an internal error", func() {
			boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
			w := httptest.NewRecorder()

			middleware.RecoveryMiddleware(slogger)(boom).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(errorCode(w)).To(Equal(string(internal.ErrCodeInternal)))
			Expect(logs.String()).To(ContainSubstring("panic recovered"))
		})
	})

	Describe("RequestID", func() {
		It("should keep an inbound request id", func() {
			var reqID string
			h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reqID = chiMiddleware.GetReqID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Request-ID", "req-42")
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			Expect(reqID).To(Equal("req-42"))
			Expect(w.Header().Get("X-Request-ID")).To(Equal("req-42"))
		})

		It("should mint one when absent", func() {
			w := httptest.NewRecorder()
			middleware.RequestID(final).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			Expect(w.Header().Get("X-Request-ID")).NotTo(BeEmpty())
		})

		It("should replace a malformed inbound id", func() {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Request-ID", "bad id\nforged=1")
			w := httptest.NewRecorder()

			middleware.RequestID(final).ServeHTTP(w, req)

			Expect(w.Header().Get("X-Request-ID")).NotTo(Equal("bad id\nforged=1"))
			Expect(w.Header().Get("X-Request-ID")).To(HaveLen(36))
		})
	})

	Describe("LoggingMiddleware", func() {
		It("should mask sensitive fields and keep the body readable downstream", func() {
			// Given
			var received string
			h := middleware.LoggingMiddleware(slogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data, _ := io.ReadAll(r.Body)
				received = string(data)
				w.WriteHeader(http.StatusOK)
			}))
			body := `{"transaction_id":"VCL-001","phone_last_four":"4821"}`
			req := httptest.NewRequest(http.MethodPost, "/items/1", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer secret-token")

			// When
			h.ServeHTTP(httptest.NewRecorder(), req)

			// Then
			Expect(received).To(Equal(body))
			Expect(logs.String()).To(ContainSubstring("VCL-001"))
			Expect(logs.String()).NotTo(ContainSubstring("4821"))
			Expect(logs.String()).To(ContainSubstring("[FILTERED]"))
			Expect(logs.String()).NotTo(ContainSubstring("secret-token"))
		})

		It("should not log uploaded files", func() {
			h := middleware.LoggingMiddleware(slogger)(final)
			req := httptest.NewRequest(http.MethodPost, "/sessions/1/upload", strings.NewReader("transaction_id,verified\nVCL-777,true\n"))
			req.Header.Set("Content-Type", "multipart/form-data; boundary=x")

			h.ServeHTTP(httptest.NewRecorder(), req)

			Expect(logs.String()).NotTo(ContainSubstring("VCL-777"))
		})
	})
})
