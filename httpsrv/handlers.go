package httpsrv

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bjaus/callback"
)

type topicStatusBody struct {
	Status string `json:"status"`
}

type bulkStatusBody struct {
	EntryID string `json:"entryId"`
	Status  string `json:"status"`
}

type bulkResponseBody struct {
	Statuses []bulkStatusBody `json:"statuses"`
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WarnContext(r.Context(), "write response", "path", r.URL.Path, "err", err)
	}
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	subs := s.router.Subscriptions()
	out := make([]subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscription(sub))
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.router.CheckHealth(r.Context())
	switch {
	case errors.Is(err, callback.ErrNotFound):
		http.Error(w, "no health check registered", http.StatusNotImplemented)
	case health != callback.Healthy:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// handleTopic serves a topic route. Failures are reported in the body
// status so the sidecar applies its redelivery policy; only a request the
// router could not take on at all is answered with 503. Batches are
// recognised only on topics subscribed with bulk delivery.
func (s *Server) handleTopic(path string, key callback.TopicKey, bulk bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeJSON(w, r, http.StatusOK, topicStatusBody{Status: callback.StatusRetry.String()})
			return
		}
		env := callback.TopicEnvelope{
			PubsubName:  key.PubsubName,
			Topic:       key.Topic,
			Route:       path,
			ContentType: r.Header.Get("Content-Type"),
		}

		if bulk && callback.IsBulkPayload(raw) {
			s.handleBulk(w, r, env, raw)
			return
		}

		e, err := callback.ParseTopicEvent(env, raw)
		if err != nil {
			s.logger.WarnContext(r.Context(), "undecodable topic event, dropping", "route", path, "err", err)
			s.writeJSON(w, r, http.StatusOK, topicStatusBody{Status: callback.StatusDrop.String()})
			return
		}
		status, err := s.router.OnTopicEvent(r.Context(), e)
		if err != nil && !errors.Is(err, callback.ErrNotFound) {
			s.writeJSON(w, r, http.StatusServiceUnavailable, topicStatusBody{Status: callback.StatusRetry.String()})
			return
		}
		s.writeJSON(w, r, http.StatusOK, topicStatusBody{Status: status.String()})
	}
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request, env callback.TopicEnvelope, raw []byte) {
	req, err := callback.ParseBulkRequest(env, raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := s.router.OnBulkTopicEvent(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	out := bulkResponseBody{Statuses: make([]bulkStatusBody, 0, len(resp.Statuses))}
	for _, st := range resp.Statuses {
		out.Statuses = append(out.Statuses, bulkStatusBody{EntryID: st.EntryID, Status: st.Status.String()})
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleMethod(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		resp, err := s.router.Invoke(r.Context(), &callback.InvocationEvent{
			Method:      name,
			Data:        data,
			ContentType: r.Header.Get("Content-Type"),
			Verb:        r.Method,
			QueryString: r.URL.RawQuery,
			Metadata:    r.Header,
		})
		if resp == nil {
			// Only possible when the router gave up waiting for a worker.
			http.Error(w, errMessage(err), http.StatusServiceUnavailable)
			return
		}

		for k, vs := range resp.Headers {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		code := resp.StatusCode
		if code == 0 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
		_, _ = w.Write(resp.Data)
	}
}

func (s *Server) handleBinding(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		md := make(map[string]string, len(r.Header))
		for k := range r.Header {
			md[k] = r.Header.Get(k)
		}
		out, err := s.router.OnBindingEvent(r.Context(), &callback.BindingEvent{Name: name, Data: data, Metadata: md})
		if err != nil {
			http.Error(w, err.Error(), errorCode(err))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	err = s.router.OnJobEvent(r.Context(), &callback.JobEvent{
		Name:        chi.URLParam(r, "name"),
		Data:        data,
		ContentType: r.Header.Get("Content-Type"),
	})
	if err != nil {
		http.Error(w, err.Error(), errorCode(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func errorCode(err error) int {
	var perr *callback.ParseError
	switch {
	case errors.Is(err, callback.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &perr):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errMessage(err error) string {
	if err == nil {
		return http.StatusText(http.StatusServiceUnavailable)
	}
	return err.Error()
}
