package manager

import (
	"sync"
	"time"
)

// RequestState is a step of a paid request's lifecycle.
type RequestState int

const (
	StateReceived RequestState = iota + 1
	StateVerifying
	StateRejected
	StateVerified
	StateSubmitting
	StateSubmissionFailed
	StateCommitted
	StateServing
	StateCompleted
	StateAborted
)

var stateNames = map[RequestState]string{
	StateReceived:         "RECEIVED",
	StateVerifying:        "VERIFYING",
	StateRejected:         "REJECTED",
	StateVerified:         "VERIFIED",
	StateSubmitting:       "SUBMITTING",
	StateSubmissionFailed: "SUBMISSION_FAILED",
	StateCommitted:        "COMMITTED",
	StateServing:          "SERVING",
	StateCompleted:        "COMPLETED",
	StateAborted:          "ABORTED",
}

func (s RequestState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseRequestState reverses String.
func ParseRequestState(name string) (RequestState, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// Terminal reports whether no further transition is possible.
func (s RequestState) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// Committed payments are spent even when serving later fails.
var validTransitions = map[RequestState][]RequestState{
	StateReceived:         {StateVerifying},
	StateVerifying:        {StateRejected, StateVerified},
	StateVerified:         {StateSubmitting},
	StateSubmitting:       {StateSubmissionFailed, StateCommitted},
	StateCommitted:        {StateServing, StateAborted},
	StateServing:          {StateCompleted, StateAborted},
	StateRejected:         {},
	StateSubmissionFailed: {},
	StateCompleted:        {},
	StateAborted:          {},
}

// RequestKind identifies the operation a request performs.
type RequestKind int

const (
	KindFetch RequestKind = iota + 1
	KindStream
)

func (k RequestKind) String() string {
	switch k {
	case KindFetch:
		return "FETCH"
	case KindStream:
		return "STREAM"
	default:
		return "UNKNOWN"
	}
}

// Request tracks one FetchSong or StreamSong call.
type Request struct {
	ID           string
	Kind         RequestKind
	Peer         string
	ContentID    string
	TxDigest     string
	Counterparty string
	BlockSize    int
	State        RequestState
	BytesServed  int64
	ChunksServed int64
	StartTime    time.Time
	UpdateTime   time.Time
	ErrorMessage string

	mu sync.RWMutex
}

// NewRequest creates a request in the Received state.
func NewRequest(id string, kind RequestKind, peer string) *Request {
	now := time.Now()
	return &Request{
		ID:         id,
		Kind:       kind,
		Peer:       peer,
		State:      StateReceived,
		StartTime:  now,
		UpdateTime: now,
	}
}

// TransitionTo moves the request to newState if the lifecycle allows it.
func (r *Request) TransitionTo(newState RequestState, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	isValid := false
	for _, allowed := range validTransitions[r.State] {
		if allowed == newState {
			isValid = true
			break
		}
	}
	if !isValid {
		return ErrInvalidStateTransition
	}

	r.State = newState
	r.UpdateTime = time.Now()
	if errorMsg != "" {
		r.ErrorMessage = errorMsg
	}
	return nil
}

// SetPayment records the verified payment of the request.
func (r *Request) SetPayment(contentID, counterparty, digest string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ContentID = contentID
	r.Counterparty = counterparty
	r.TxDigest = digest
}

// AddServed accounts for one delivered chunk.
func (r *Request) AddServed(bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BytesServed += int64(bytes)
	r.ChunksServed++
	r.UpdateTime = time.Now()
}

// GetState returns current state (thread-safe)
func (r *Request) GetState() RequestState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.State
}

// Snapshot is a copy of a request safe to read without locking.
type Snapshot struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	Peer         string    `json:"peer,omitempty"`
	ContentID    string    `json:"content_id,omitempty"`
	TxDigest     string    `json:"tx_digest,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
	BlockSize    int       `json:"block_size,omitempty"`
	State        string    `json:"state"`
	BytesServed  int64     `json:"bytes_served"`
	ChunksServed int64     `json:"chunks_served"`
	StartTime    time.Time `json:"start_time"`
	UpdateTime   time.Time `json:"update_time"`
	Error        string    `json:"error,omitempty"`
}

// Snapshot returns a consistent copy of the request.
func (r *Request) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		ID:           r.ID,
		Kind:         r.Kind.String(),
		Peer:         r.Peer,
		ContentID:    r.ContentID,
		TxDigest:     r.TxDigest,
		Counterparty: r.Counterparty,
		BlockSize:    r.BlockSize,
		State:        r.State.String(),
		BytesServed:  r.BytesServed,
		ChunksServed: r.ChunksServed,
		StartTime:    r.StartTime,
		UpdateTime:   r.UpdateTime,
		Error:        r.ErrorMessage,
	}
}
