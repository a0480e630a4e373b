package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// RPCClient talks JSON-RPC 2.0 to a ledger full node.
type RPCClient struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// NewRPCClient creates a client for the node at url.
func NewRPCClient(url string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPCClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

func (c *RPCClient) call(ctx context.Context, method string, result any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected HTTP status %s", method, resp.Status)
	}

	var rr rpcResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&rr); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		return &RPCError{Method: method, Code: rr.Error.Code, Message: rr.Error.Message}
	}
	if result == nil {
		return nil
	}

	d := json.NewDecoder(bytes.NewReader(rr.Result))
	d.UseNumber()
	if err := d.Decode(result); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

type objectOptions struct {
	ShowType    bool `json:"showType"`
	ShowOwner   bool `json:"showOwner"`
	ShowContent bool `json:"showContent"`
}

var fullObject = objectOptions{ShowType: true, ShowOwner: true, ShowContent: true}

type objectData struct {
	ObjectID ObjectID        `json:"objectId"`
	Version  json.Number     `json:"version"`
	Digest   Digest          `json:"digest"`
	Type     string          `json:"type"`
	Owner    json.RawMessage `json:"owner"`
	Content  *struct {
		DataType string         `json:"dataType"`
		Fields   map[string]any `json:"fields"`
	} `json:"content"`
}

type objectResponse struct {
	Data  *objectData     `json:"data"`
	Error json.RawMessage `json:"error"`
}

func (o *objectData) toObject() (*Object, error) {
	version, err := toU64(o.Version)
	if err != nil {
		return nil, fmt.Errorf("object %s: version: %w", o.ObjectID, err)
	}
	owner, err := parseOwner(o.Owner)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", o.ObjectID, err)
	}
	obj := &Object{
		Ref:   ObjectRef{ID: o.ObjectID, Version: version, Digest: o.Digest},
		Type:  o.Type,
		Owner: owner,
	}
	if o.Content != nil {
		obj.Fields = o.Content.Fields
	}
	return obj, nil
}

// parseOwner decodes "Immutable", {"AddressOwner": ..}, {"ObjectOwner": ..} or
// {"Shared": {"initial_shared_version": ..}}.
func parseOwner(raw json.RawMessage) (Owner, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Owner{}, nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "Immutable" {
			return Owner{Kind: OwnerImmutable}, nil
		}
		return Owner{}, fmt.Errorf("unknown owner %q", s)
	}

	var m struct {
		AddressOwner *Address `json:"AddressOwner"`
		ObjectOwner  *Address `json:"ObjectOwner"`
		Shared       *struct {
			InitialSharedVersion json.Number `json:"initial_shared_version"`
		} `json:"Shared"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return Owner{}, fmt.Errorf("owner: %w", err)
	}
	switch {
	case m.AddressOwner != nil:
		return Owner{Kind: OwnerAddress, Address: *m.AddressOwner}, nil
	case m.ObjectOwner != nil:
		return Owner{Kind: OwnerObject, Address: *m.ObjectOwner}, nil
	case m.Shared != nil:
		v, err := toU64(m.Shared.InitialSharedVersion)
		if err != nil {
			return Owner{}, fmt.Errorf("initial_shared_version: %w", err)
		}
		return Owner{Kind: OwnerShared, InitialSharedVersion: v}, nil
	}
	return Owner{}, fmt.Errorf("unknown owner %s", raw)
}

// GetObject implements Ledger.
func (c *RPCClient) GetObject(ctx context.Context, id ObjectID) (*Object, error) {
	var resp objectResponse
	if err := c.call(ctx, "iota_getObject", &resp, id.Hex(), fullObject); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, id)
	}
	return resp.Data.toObject()
}

// GetOwnedObjects implements Ledger, following pagination cursors until exhausted.
func (c *RPCClient) GetOwnedObjects(ctx context.Context, owner Address, structType string) ([]*Object, error) {
	query := map[string]any{
		"filter":  map[string]any{"StructType": structType},
		"options": fullObject,
	}

	var objects []*Object
	var cursor any
	for {
		var page struct {
			Data        []objectResponse `json:"data"`
			NextCursor  *string          `json:"nextCursor"`
			HasNextPage bool             `json:"hasNextPage"`
		}
		if err := c.call(ctx, "iotax_getOwnedObjects", &page, owner.Hex(), query, cursor, nil); err != nil {
			return nil, err
		}
		for _, r := range page.Data {
			if r.Data == nil {
				continue
			}
			obj, err := r.Data.toObject()
			if err != nil {
				return nil, err
			}
			objects = append(objects, obj)
		}
		if !page.HasNextPage || page.NextCursor == nil {
			return objects, nil
		}
		cursor = *page.NextCursor
	}
}

// ReferenceGasPrice implements Ledger.
func (c *RPCClient) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	var price json.Number
	if err := c.call(ctx, "iotax_getReferenceGasPrice", &price); err != nil {
		return 0, err
	}
	return toU64(price)
}

type executionStatus struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// ExecuteTransaction implements Ledger.
func (c *RPCClient) ExecuteTransaction(ctx context.Context, tx *Transaction) (*Effects, error) {
	sigs := make([]string, len(tx.Signatures))
	for i, s := range tx.Signatures {
		sigs[i] = base64.StdEncoding.EncodeToString(s)
	}
	options := map[string]bool{"showEffects": true, "showObjectChanges": true}

	var resp struct {
		Digest  Digest `json:"digest"`
		Effects *struct {
			Status executionStatus `json:"status"`
		} `json:"effects"`
		ObjectChanges []struct {
			Type       string   `json:"type"`
			ObjectID   ObjectID `json:"objectId"`
			ObjectType string   `json:"objectType"`
		} `json:"objectChanges"`
	}
	txBytes := base64.StdEncoding.EncodeToString(tx.Data.Marshal())
	if err := c.call(ctx, "iota_executeTransactionBlock", &resp, txBytes, sigs, options, "WaitForLocalExecution"); err != nil {
		return nil, err
	}
	if resp.Effects == nil {
		return nil, fmt.Errorf("no effects for transaction %s", resp.Digest)
	}

	effects := &Effects{Digest: resp.Digest, Success: resp.Effects.Status.Status == "success", Error: resp.Effects.Status.Error}
	for _, ch := range resp.ObjectChanges {
		if ch.Type == "created" {
			effects.Created = append(effects.Created, CreatedObject{ID: ch.ObjectID, Type: ch.ObjectType})
		}
	}
	if !effects.Success {
		return effects, &ExecutionError{Digest: effects.Digest, Reason: effects.Error}
	}
	return effects, nil
}

// DevInspect implements Ledger.
func (c *RPCClient) DevInspect(ctx context.Context, sender Address, pt *ProgrammableTransaction) ([][]byte, error) {
	var resp struct {
		Error   string `json:"error"`
		Results []struct {
			ReturnValues []json.RawMessage `json:"returnValues"`
		} `json:"results"`
	}
	kind := base64.StdEncoding.EncodeToString(pt.MarshalKind())
	if err := c.call(ctx, "iota_devInspectTransactionBlock", &resp, sender.Hex(), kind, nil, nil); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &ExecutionError{Reason: resp.Error}
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("dev-inspect returned no results")
	}

	// Each return value is [bytes, type]
	var values [][]byte
	for i, rv := range resp.Results[0].ReturnValues {
		var pair []json.RawMessage
		if err := json.Unmarshal(rv, &pair); err != nil || len(pair) != 2 {
			return nil, fmt.Errorf("return value %d: unexpected shape", i)
		}
		var nums []json.Number
		if err := json.Unmarshal(pair[0], &nums); err != nil {
			return nil, fmt.Errorf("return value %d: %w", i, err)
		}
		b := make([]byte, len(nums))
		for j, n := range nums {
			v, err := strconv.ParseUint(n.String(), 10, 8)
			if err != nil {
				return nil, fmt.Errorf("return value %d: byte %d: %w", i, j, err)
			}
			b[j] = byte(v)
		}
		values = append(values, b)
	}
	return values, nil
}
