package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/TunoMedia/TunoMedia/daemon/api/tunopb"
	"github.com/TunoMedia/TunoMedia/daemon/service"
	"github.com/TunoMedia/TunoMedia/internal/ledger"
	"github.com/TunoMedia/TunoMedia/internal/observability"
	"github.com/TunoMedia/TunoMedia/internal/payment"
	"github.com/TunoMedia/TunoMedia/internal/ratelimit"
	"github.com/TunoMedia/TunoMedia/internal/storage"
)

var testPkg = ledger.MustObjectID("0x7a11")

type harness struct {
	ledger   *ledger.Memory
	transfer *service.TransferService
	server   ledger.Address
	client   ledger.Address
	priv     ed25519.PrivateKey
	song     ledger.ObjectID
	payload  []byte
}

func newHarness(t *testing.T, size int) *harness {
	t.Helper()
	serverPub, _, _ := ed25519.GenerateKey(nil)
	clientPub, clientPriv, _ := ed25519.GenerateKey(nil)

	h := &harness{
		ledger: ledger.NewMemory(testPkg),
		server: ledger.AddressFromPublicKey(serverPub),
		client: ledger.AddressFromPublicKey(clientPub),
		priv:   clientPriv,
	}
	h.song = h.ledger.AddSong(ledger.Song{
		Title:          "Song",
		StreamingPrice: 10,
		Distributors: map[ledger.Address]ledger.Distributor{
			h.server: {StreamingPrice: 5},
		},
	})

	store, err := storage.NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore failed: %v", err)
	}
	if size > 0 {
		h.payload = make([]byte, size)
		rand.Read(h.payload)
		if _, err := store.Put(context.Background(), h.song, bytes.NewReader(h.payload), false); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	v := payment.NewVerifier(h.server, testPkg, payment.EncodingHex)
	h.transfer = service.NewTransferService(v, h.ledger, store, service.Options{
		Events: service.NewEventPublisher(16),
	})
	return h
}

func (h *harness) envelope(t *testing.T, recipient ledger.Address) []byte {
	t.Helper()
	coin := h.ledger.AddCoin(h.client, "0x2::iota::IOTA", 1000)
	pt := ledger.BuildPayRoyalties(testPkg, ledger.SharedObject(h.song, 1, true), recipient, coin)
	tx, err := ledger.Sign(ledger.NewTransactionData(h.client, pt, nil, 1000, ledger.DefaultGasBudget), h.priv)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return payment.EncodingHex.Encode(tx.Marshal())
}

func (h *harness) dial(t *testing.T, limiter *ratelimit.PeerLimiter) tunopb.TunoClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewGRPCServer(NewTunoAPIServer(h.transfer), limiter)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return tunopb.NewTunoClient(conn)
}

func TestGRPC_Echo(t *testing.T) {
	c := newHarness(t, 0).dial(t, nil)
	ctx := context.Background()

	resp, err := c.Echo(ctx, &tunopb.EchoRequest{Message: "ping"})
	if err != nil || resp.Message != "ping" {
		t.Fatalf("Echo = %+v, %v", resp, err)
	}
	if _, err := c.Echo(ctx, &tunopb.EchoRequest{}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
}

func TestGRPC_FetchSong(t *testing.T) {
	h := newHarness(t, 100*1024)
	c := h.dial(t, nil)

	resp, err := c.FetchSong(context.Background(), &tunopb.SongRequest{RawTransaction: h.envelope(t, h.server)})
	if err != nil {
		t.Fatalf("FetchSong failed: %v", err)
	}
	if !bytes.Equal(resp.Data, h.payload) {
		t.Error("Payload mismatch")
	}
}

func TestGRPC_ErrorMapping(t *testing.T) {
	h := newHarness(t, 0)
	c := h.dial(t, nil)
	other, _ := ledger.ParseAddress("0xbeef")

	tests := []struct {
		name     string
		envelope []byte
		code     codes.Code
	}{
		{"malformed", []byte("zz"), codes.PermissionDenied},
		{"wrong recipient", h.envelope(t, other), codes.PermissionDenied},
		{"content missing", h.envelope(t, h.server), codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.FetchSong(context.Background(), &tunopb.SongRequest{RawTransaction: tt.envelope})
			st := status.Convert(err)
			if st.Code() != tt.code {
				t.Fatalf("Expected %s, got %v", tt.code, err)
			}
			if tt.code == codes.PermissionDenied && strings.Contains(st.Message(), "recipient") {
				t.Errorf("Rejection reason leaked to caller: %q", st.Message())
			}
		})
	}
}

func TestGRPC_StreamSong(t *testing.T) {
	const blockSize = 512 * 1024
	h := newHarness(t, 4*blockSize)
	c := h.dial(t, nil)

	stream, err := c.StreamSong(context.Background(), &tunopb.SongStreamRequest{
		Req:       &tunopb.SongRequest{RawTransaction: h.envelope(t, h.server)},
		BlockSize: blockSize,
	})
	if err != nil {
		t.Fatalf("StreamSong failed: %v", err)
	}

	var got bytes.Buffer
	blocks := 0
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		blocks++
		got.Write(msg.Data)
	}
	if blocks != 4 {
		t.Errorf("Expected 4 blocks, got %d", blocks)
	}
	if !bytes.Equal(got.Bytes(), h.payload) {
		t.Error("Streamed payload mismatch")
	}
}

func TestGRPC_StreamSongRejectedBeforeFirstBlock(t *testing.T) {
	h := newHarness(t, 4096)
	c := h.dial(t, nil)

	stream, err := c.StreamSong(context.Background(), &tunopb.SongStreamRequest{Req: &tunopb.SongRequest{RawTransaction: []byte("00")}})
	if err != nil {
		t.Fatalf("StreamSong failed: %v", err)
	}
	if _, err := stream.Recv(); status.Code(err) != codes.PermissionDenied {
		t.Errorf("Expected PermissionDenied, got %v", err)
	}
	if h.ledger.Submissions() != 0 {
		t.Error("Malformed payment reached the ledger")
	}
}

func TestGRPC_RateLimit(t *testing.T) {
	h := newHarness(t, 0)
	c := h.dial(t, ratelimit.NewPeerLimiter(1, 2))
	ctx := context.Background()

	var limited bool
	for i := 0; i < 5; i++ {
		_, err := c.Echo(ctx, &tunopb.EchoRequest{Message: "x"})
		if status.Code(err) == codes.ResourceExhausted {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("Expected ResourceExhausted after exceeding the burst")
	}
}

func newHTTP(t *testing.T, h *harness) *httptest.Server {
	t.Helper()
	handler, err := NewHTTPHandler(h.transfer, HTTPOptions{
		Health:  observability.NewHealthChecker("test"),
		Metrics: observability.NewMetrics(nil),
	})
	if err != nil {
		t.Fatalf("NewHTTPHandler failed: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTP_FetchAndRequests(t *testing.T) {
	h := newHarness(t, 2048)
	srv := newHTTP(t, h)

	body, _ := json.Marshal(FetchBody{RawTransaction: string(h.envelope(t, h.server))})
	resp, err := http.Post(srv.URL+"/api/v1/fetch", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(data, h.payload) {
		t.Fatalf("Unexpected fetch response %d (%d bytes)", resp.StatusCode, len(data))
	}

	resp, err = http.Get(srv.URL + "/api/v1/requests?state=completed")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var list ListRequestsResponse
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if list.TotalCount != 1 || list.Requests[0].State != "COMPLETED" {
		t.Fatalf("Unexpected request list: %+v", list)
	}

	resp, err = http.Get(srv.URL + "/api/v1/requests/" + list.Requests[0].ID)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for known request, got %d", resp.StatusCode)
	}
}

func TestHTTP_ErrorModel(t *testing.T) {
	h := newHarness(t, 0)
	srv := newHTTP(t, h)

	body, _ := json.Marshal(FetchBody{RawTransaction: "nothex"})
	resp, err := http.Post(srv.URL+"/api/v1/fetch", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", resp.StatusCode)
	}
	var je JSONError
	json.NewDecoder(resp.Body).Decode(&je)
	if je.Code != "PERMISSION_DENIED" {
		t.Errorf("Expected PERMISSION_DENIED, got %+v", je)
	}

	resp2, err := http.Get(srv.URL + "/api/v1/requests/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp2.StatusCode)
	}
}

func TestHTTP_RejectionReasonHidden(t *testing.T) {
	h := newHarness(t, 1024)
	srv := newHTTP(t, h)
	sub := h.transfer.Events().Subscribe("")
	defer h.transfer.Events().Unsubscribe(sub.ID)

	other, _ := ledger.ParseAddress("0xbeef")
	body, _ := json.Marshal(FetchBody{RawTransaction: string(h.envelope(t, other))})
	resp, err := http.Post(srv.URL+"/api/v1/fetch", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d", resp.StatusCode)
	}

	var exposed []string
	for _, path := range []string{"/api/v1/requests", "/api/v1/requests?state=rejected"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		exposed = append(exposed, string(data))

		var list ListRequestsResponse
		if err := json.Unmarshal(data, &list); err != nil || list.TotalCount != 1 {
			t.Fatalf("Unexpected request list from %s: %s", path, data)
		}
		resp, err = http.Get(srv.URL + "/api/v1/requests/" + list.Requests[0].ID)
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		data, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		exposed = append(exposed, string(data))
	}
	for len(sub.Channel) > 0 {
		data, _ := json.Marshal(<-sub.Channel)
		exposed = append(exposed, string(data))
	}

	kinds := []payment.AuthKind{payment.Malformed, payment.BadSignature, payment.WrongShape,
		payment.WrongTarget, payment.WrongArguments, payment.WrongRecipient}
	for _, text := range exposed {
		for _, k := range kinds {
			if strings.Contains(text, k.String()) {
				t.Errorf("Rejection reason %q exposed: %s", k, text)
			}
		}
		if strings.Contains(text, "addressed") {
			t.Errorf("Rejection detail exposed: %s", text)
		}
	}
}

func TestHTTP_BodyTooLarge(t *testing.T) {
	h := newHarness(t, 0)
	srv := newHTTP(t, h)

	huge := bytes.Repeat([]byte("a"), maxBodySize+1)
	body, _ := json.Marshal(FetchBody{RawTransaction: string(huge)})
	resp, err := http.Post(srv.URL+"/api/v1/fetch", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", resp.StatusCode)
	}
	if _, total := h.transfer.Requests().List(nil, 10, 0); total != 0 {
		t.Errorf("Oversized body reached the transfer service: %d requests", total)
	}
}

// closeStatus reverses closeWith on the client side.
func closeStatus(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return err
	}
	if ce.Code == websocket.CloseNormalClosure {
		return nil
	}
	return status.Error(codes.Code(ce.Code-closeCodeBase), ce.Text)
}

func dialStream(t *testing.T, srv *httptest.Server, open StreamOpen) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.WriteJSON(open); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	return conn
}

func TestWebsocket_Stream(t *testing.T) {
	h := newHarness(t, 10*1024)
	srv := newHTTP(t, h)
	conn := dialStream(t, srv, StreamOpen{RawTransaction: string(h.envelope(t, h.server)), BlockSize: 4096})

	var got bytes.Buffer
	var sizes []int
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if err := closeStatus(err); err != nil {
				t.Fatalf("Stream ended with %v", err)
			}
			break
		}
		if typ != websocket.BinaryMessage {
			t.Fatalf("Unexpected message type %d", typ)
		}
		sizes = append(sizes, len(data))
		got.Write(data)
	}
	if !bytes.Equal(got.Bytes(), h.payload) {
		t.Error("Streamed payload mismatch")
	}
	if len(sizes) != 3 || sizes[2] != 2048 {
		t.Errorf("Unexpected block sizes %v", sizes)
	}
}

func TestWebsocket_Rejected(t *testing.T) {
	h := newHarness(t, 1024)
	srv := newHTTP(t, h)
	other, _ := ledger.ParseAddress("0xbeef")
	conn := dialStream(t, srv, StreamOpen{RawTransaction: string(h.envelope(t, other))})

	_, _, err := conn.ReadMessage()
	if code := status.Code(closeStatus(err)); code != codes.PermissionDenied {
		t.Errorf("Expected PermissionDenied close, got %v", err)
	}
}
