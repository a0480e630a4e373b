package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/TunoMedia/TunoMedia/daemon/manager"
	"github.com/TunoMedia/TunoMedia/daemon/service"
	"github.com/TunoMedia/TunoMedia/internal/observability"
	"github.com/TunoMedia/TunoMedia/internal/payment"
	"github.com/TunoMedia/TunoMedia/internal/ratelimit"
)

// HTTP contract types

type (
	EchoBody struct {
		Message string `json:"message"`
	}

	FetchBody struct {
		RawTransaction string `json:"raw_transaction"`
	}

	ListRequestsResponse struct {
		Requests   []manager.Snapshot `json:"requests"`
		TotalCount int                `json:"total_count"`
		HasMore    bool               `json:"has_more"`
	}

	OfferedResponse struct {
		Distributor string   `json:"distributor"`
		ContentIDs  []string `json:"content_ids"`
	}
)

// maxBodySize bounds JSON request bodies: one envelope plus framing.
const maxBodySize = payment.MaxEnvelopeSize + 4<<10

// HTTPOptions are the optional collaborators of the HTTP surface.
type HTTPOptions struct {
	Audit   *manager.AuditStore
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Limiter *ratelimit.PeerLimiter
	Logger  *observability.Logger
}

type httpAPI struct {
	transfer *service.TransferService
	opts     HTTPOptions
}

// NewHTTPHandler builds the browser-facing HTTP surface: JSON routes on a
// grpc-gateway mux, server-sent events, the websocket stream, health and metrics.
func NewHTTPHandler(ts *service.TransferService, opts HTTPOptions) (http.Handler, error) {
	if opts.Logger == nil {
		opts.Logger = observability.Nop()
	}
	api := &httpAPI{transfer: ts, opts: opts}

	gw := runtime.NewServeMux(runtime.WithErrorHandler(JSONErrorHandler))
	routes := []struct {
		method, pattern string
		handler         runtime.HandlerFunc
	}{
		{http.MethodPost, "/api/v1/echo", api.handleEcho},
		{http.MethodPost, "/api/v1/fetch", api.limited(api.handleFetch)},
		{http.MethodGet, "/api/v1/offered", api.handleOffered},
		{http.MethodGet, "/api/v1/requests", api.handleListRequests},
		{http.MethodGet, "/api/v1/requests/{id}", api.handleGetRequest},
	}
	for _, rt := range routes {
		if err := gw.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, err
		}
	}

	root := http.NewServeMux()
	if events := ts.Events(); events != nil {
		root.Handle("/api/v1/events", SSEHandler(events))
	}
	root.Handle("/api/v1/stream", api.streamHandler())
	if opts.Health != nil {
		root.Handle("/health", opts.Health.Handler())
	}
	if opts.Metrics != nil {
		root.Handle("/metrics", opts.Metrics.Handler())
	}
	root.Handle("/", gw)
	return root, nil
}

// StartAPIServers serves grpcServer on grpcAddr and, if httpAddr is set, handler on httpAddr.
func StartAPIServers(grpcAddr, httpAddr string, grpcServer *grpc.Server, handler http.Handler) (grpcStop func(), restStop func(), err error) {
	l, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return nil, nil, err
	}
	go func() { _ = grpcServer.Serve(l) }()
	grpcStop = func() { grpcServer.GracefulStop(); _ = l.Close() }

	restStop = func() {}
	if httpAddr == "" || handler == nil {
		return grpcStop, restStop, nil
	}
	hl, err := net.Listen("tcp", httpAddr)
	if err != nil {
		grpcStop()
		return nil, nil, err
	}
	server := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = server.Serve(hl) }()
	restStop = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
	return grpcStop, restStop, nil
}

func (a *httpAPI) limited(h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		if a.opts.Limiter != nil && !a.opts.Limiter.Allow(hostOf(r.RemoteAddr)) {
			writeStatus(w, status.Error(codes.ResourceExhausted, "rate limit exceeded"))
			return
		}
		h(w, r, params)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "INVALID_ARGUMENT", "request body too large")
		return
	}
	writeJSONError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body")
}

func (a *httpAPI) handleEcho(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var body EchoBody
	if err := decodeBody(w, r, &body); err != nil {
		writeBodyError(w, err)
		return
	}
	msg, err := a.transfer.Echo(body.Message)
	if err != nil {
		writeStatus(w, toStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, EchoBody{Message: msg})
}

func (a *httpAPI) handleFetch(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var body FetchBody
	if err := decodeBody(w, r, &body); err != nil {
		writeBodyError(w, err)
		return
	}
	data, err := a.transfer.FetchSong(r.Context(), r.RemoteAddr, []byte(body.RawTransaction))
	if err != nil {
		writeStatus(w, toStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *httpAPI) handleOffered(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ids, err := a.transfer.Offered(r.Context())
	if err != nil {
		a.opts.Logger.Error(err, "Failed to list stored content")
		writeStatus(w, status.Error(codes.Internal, "internal error"))
		return
	}
	resp := OfferedResponse{Distributor: a.transfer.Identity().Hex(), ContentIDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		resp.ContentIDs = append(resp.ContentIDs, id.Hex())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *httpAPI) handleListRequests(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	var filter *manager.RequestState
	if v := q.Get("state"); v != "" {
		st, ok := manager.ParseRequestState(strings.ToUpper(v))
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "unknown state "+v)
			return
		}
		filter = &st
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	var (
		snaps []manager.Snapshot
		total int
	)
	if q.Get("source") == "audit" && a.opts.Audit != nil {
		var err error
		snaps, total, err = a.opts.Audit.ListRequests(filter, limit, offset)
		if err != nil {
			a.opts.Logger.Error(err, "Failed to query audit log")
			writeStatus(w, status.Error(codes.Internal, "internal error"))
			return
		}
	} else {
		snaps, total = a.transfer.Requests().List(filter, limit, offset)
	}
	if snaps == nil {
		snaps = []manager.Snapshot{}
	}
	writeJSON(w, http.StatusOK, ListRequestsResponse{
		Requests:   snaps,
		TotalCount: total,
		HasMore:    offset+len(snaps) < total,
	})
}

func (a *httpAPI) handleGetRequest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id := params["id"]
	if req, err := a.transfer.Requests().Get(id); err == nil {
		writeJSON(w, http.StatusOK, req.Snapshot())
		return
	}
	// Cleaned up from memory, maybe still audited
	if a.opts.Audit != nil {
		if snap, err := a.opts.Audit.LoadRequest(id); err == nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "request not found")
}

// SSEHandler streams request lifecycle events, optionally filtered by ?request_id=.
func SSEHandler(events *service.EventPublisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		sub := events.Subscribe(r.URL.Query().Get("request_id"))
		defer events.Unsubscribe(sub.ID)
		flusher.Flush()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Channel:
				if !ok {
					return
				}
				line, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				_, _ = w.Write([]byte("data: "))
				_, _ = w.Write(line)
				_, _ = w.Write([]byte("\n\n"))
				flusher.Flush()
			}
		}
	}
}

// JSONErrorHandler converts gateway errors to a normalized JSON model
func JSONErrorHandler(ctx context.Context, mux *runtime.ServeMux, marshaler runtime.Marshaler, w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *runtime.HTTPStatusError
	if errors.As(err, &httpErr) {
		writeJSONError(w, httpErr.HTTPStatus, codeToString(status.Code(httpErr.Err)), http.StatusText(httpErr.HTTPStatus))
		return
	}
	writeStatus(w, err)
}

func writeStatus(w http.ResponseWriter, err error) {
	st, ok := status.FromError(err)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	writeJSONError(w, runtime.HTTPStatusFromCode(st.Code()), codeToString(st.Code()), st.Message())
}

func codeToString(c codes.Code) string {
	switch c {
	case codes.InvalidArgument:
		return "INVALID_ARGUMENT"
	case codes.NotFound:
		return "NOT_FOUND"
	case codes.PermissionDenied:
		return "PERMISSION_DENIED"
	case codes.ResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case codes.Canceled:
		return "CANCELLED"
	case codes.Unimplemented:
		return "UNIMPLEMENTED"
	case codes.Unavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// JSON helpers

type JSONError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, JSONError{Code: code, Message: msg})
}
