package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/crypto/blake2b"
)

// DefaultAuditQueueSize bounds the number of entries waiting for the writer.
const DefaultAuditQueueSize = 256

const (
	auditWriteTimeout = 5 * time.Second
	deadLetterTimeout = 5 * time.Second
)

type auditItem struct {
	ctx     context.Context
	entry   ActivityLogEntry
	barrier chan struct{}
}

// AuditLog records state transitions. Append hands entries to a single writer
// goroutine that chains each entry to the previous entry of the same booking
// and persists it. Entries that cannot be queued or written go to the
// dead-letter sink; the caller never sees the failure.
type AuditLog struct {
	store       ActivityStore
	sink        DeadLetterSink
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger

	mu       sync.RWMutex
	closed   bool
	overflow sync.WaitGroup
	queue    chan auditItem
	done     chan struct{}
}

// AuditLogOptions configures an AuditLog. Zero values select defaults.
type AuditLogOptions struct {
	QueueSize   int
	Sink        DeadLetterSink
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// NewAuditLog starts the writer goroutine. Call Close to stop it.
func NewAuditLog(store ActivityStore, opts AuditLogOptions) *AuditLog {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultAuditQueueSize
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = func() string { return "" }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := defaultLogger(opts.Logger)
	if opts.Sink == nil {
		opts.Sink = NewLogDeadLetterSink(logger)
	}

	a := &AuditLog{
		store:       store,
		sink:        opts.Sink,
		idGenerator: opts.IDGenerator,
		now:         opts.Now,
		logger:      logger,
		queue:       make(chan auditItem, opts.QueueSize),
		done:        make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AuditLog) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, a.logger, "AuditLog", operation, attrs...)
}

// Append assigns an ID and timestamp when missing and queues the entry.
func (a *AuditLog) Append(ctx context.Context, entry ActivityLogEntry) {
	if a == nil {
		return
	}

	if entry.ID == "" {
		entry.ID = a.idGenerator()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now()
	}
	entry.Changes = maps.Clone(entry.Changes)
	if entry.Changes == nil {
		entry.Changes = map[string]FieldChange{}
	}
	entry.Metadata = maps.Clone(entry.Metadata)
	if entry.Metadata == nil {
		entry.Metadata = map[string]string{}
	}

	item := auditItem{ctx: context.WithoutCancel(ctx), entry: entry}

	a.mu.RLock()
	closed := a.closed
	queued := false
	if !closed {
		select {
		case a.queue <- item:
			queued = true
		default:
			a.overflow.Add(1)
		}
	}
	a.mu.RUnlock()

	switch {
	case queued:
	case closed:
		a.deadLetter(item.ctx, entry, ErrAuditLogClosed)
	default:
		// Overflow is handed to the sink off the caller's goroutine.
		go func() {
			defer a.overflow.Done()
			a.deadLetter(item.ctx, entry, ErrAuditQueueFull)
		}()
	}
}

// Flush blocks until every entry appended before the call has been handled.
func (a *AuditLog) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return a.wait(ctx, a.done)
	}
	select {
	case a.queue <- auditItem{barrier: barrier}:
		a.mu.RUnlock()
	case <-ctx.Done():
		a.mu.RUnlock()
		return ctx.Err()
	}

	return a.wait(ctx, barrier)
}

// Close stops accepting entries and waits for the queue to drain.
func (a *AuditLog) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	if err := a.wait(ctx, a.done); err != nil {
		return err
	}

	overflowed := make(chan struct{})
	go func() {
		a.overflow.Wait()
		close(overflowed)
	}()
	return a.wait(ctx, overflowed)
}

// ListByBooking returns the entries of a booking in the requested order.
func (a *AuditLog) ListByBooking(ctx context.Context, bookingID string, order ListOrder) ([]ActivityLogEntry, error) {
	if order == "" {
		order = OrderOldestFirst
	}
	entries, err := a.store.ListActivityByBooking(ctx, bookingID, order)
	if err != nil {
		err = mapStoreError(err)
		a.loggerWith(ctx, "ListByBooking", "booking_id", bookingID).
			ErrorContext(ctx, "failed to list activity", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	return entries, nil
}

// ListByUser returns the entries written for userID, newest first.
func (a *AuditLog) ListByUser(ctx context.Context, userID string, limit int) ([]ActivityLogEntry, error) {
	entries, err := a.store.ListActivityByUser(ctx, userID, limit)
	if err != nil {
		err = mapStoreError(err)
		a.loggerWith(ctx, "ListByUser", "user_id", userID).
			ErrorContext(ctx, "failed to list activity", "error", err, "error_kind", ErrorKind(err))
		return nil, err
	}
	return entries, nil
}

// ChainBreak identifies the first entry whose digest does not link.
type ChainBreak struct {
	Index   int
	EntryID string
}

// Error implements the error interface.
func (b *ChainBreak) Error() string {
	return fmt.Sprintf("%v at entry %d (%s)", ErrAuditChainBroken, b.Index, b.EntryID)
}

// Unwrap exposes ErrAuditChainBroken to errors.Is.
func (b *ChainBreak) Unwrap() error {
	return ErrAuditChainBroken
}

// VerifyTrail recomputes the digest chain of a booking. It returns a
// *ChainBreak for the first entry that was altered or is out of sequence.
func (a *AuditLog) VerifyTrail(ctx context.Context, bookingID string) error {
	entries, err := a.ListByBooking(ctx, bookingID, OrderOldestFirst)
	if err != nil {
		return err
	}

	prev := ""
	for i, entry := range entries {
		digest, err := EntryDigest(prev, entry)
		if err != nil {
			return err
		}
		if entry.PrevDigest != prev || entry.Digest != digest {
			return &ChainBreak{Index: i, EntryID: entry.ID}
		}
		prev = entry.Digest
	}
	return nil
}

func (a *AuditLog) run() {
	defer close(a.done)
	for item := range a.queue {
		if item.barrier != nil {
			close(item.barrier)
			continue
		}
		a.write(item)
	}
}

func (a *AuditLog) write(item auditItem) {
	ctx, cancel := context.WithTimeout(item.ctx, auditWriteTimeout)
	defer cancel()

	entry := item.entry
	if err := a.persist(ctx, &entry); err != nil {
		a.deadLetter(item.ctx, entry, fmt.Errorf("%w: %v", ErrAuditWriteFailed, err))
	}
}

func (a *AuditLog) persist(ctx context.Context, entry *ActivityLogEntry) error {
	if a.store == nil {
		return fmt.Errorf("activity store not configured")
	}

	entry.PrevDigest = ""
	if entry.BookingID != nil {
		prev, err := a.store.LatestDigest(ctx, *entry.BookingID)
		if err != nil {
			return fmt.Errorf("read previous digest: %w", err)
		}
		entry.PrevDigest = prev
	}

	digest, err := EntryDigest(entry.PrevDigest, *entry)
	if err != nil {
		return err
	}
	entry.Digest = digest

	return a.store.AppendActivity(ctx, *entry)
}

func (a *AuditLog) deadLetter(ctx context.Context, entry ActivityLogEntry, cause error) {
	logger := a.loggerWith(ctx, "Append",
		"entry_id", entry.ID,
		"action_type", entry.ActionType,
	)
	logger.ErrorContext(ctx, "audit entry not recorded", "error", cause, "error_kind", ErrorKind(cause))

	sinkCtx, cancel := context.WithTimeout(ctx, deadLetterTimeout)
	defer cancel()
	if err := a.sink.DeadLetter(sinkCtx, entry, cause); err != nil {
		logger.ErrorContext(ctx, "dead-letter delivery failed", "error", err)
	}
}

func (a *AuditLog) wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type canonicalEntry struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	BookingID   *string                `json:"bookingId"`
	ActionType  ActionType             `json:"actionType"`
	Description string                 `json:"description"`
	Changes     map[string]FieldChange `json:"changes"`
	Metadata    map[string]string      `json:"metadata"`
	CreatedAt   string                 `json:"createdAt"`
}

// EntryDigest returns the hex BLAKE2b-256 digest linking entry to prev.
func EntryDigest(prev string, entry ActivityLogEntry) (string, error) {
	canonical := canonicalEntry{
		ID:          entry.ID,
		UserID:      entry.UserID,
		BookingID:   entry.BookingID,
		ActionType:  entry.ActionType,
		Description: entry.Description,
		Changes:     entry.Changes,
		Metadata:    entry.Metadata,
		CreatedAt:   entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if canonical.Changes == nil {
		canonical.Changes = map[string]FieldChange{}
	}
	if canonical.Metadata == nil {
		canonical.Metadata = map[string]string{}
	}

	payload, err := sonic.ConfigStd.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(prev))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// LogDeadLetterSink records undeliverable audit entries in the service log.
type LogDeadLetterSink struct {
	logger *slog.Logger
}

// NewLogDeadLetterSink returns a sink writing to logger.
func NewLogDeadLetterSink(logger *slog.Logger) *LogDeadLetterSink {
	return &LogDeadLetterSink{logger: defaultLogger(logger)}
}

// DeadLetter logs the entry with enough detail to replay it by hand.
func (s *LogDeadLetterSink) DeadLetter(ctx context.Context, entry ActivityLogEntry, cause error) error {
	bookingID := ""
	if entry.BookingID != nil {
		bookingID = *entry.BookingID
	}
	s.logger.WarnContext(ctx, "audit entry dead-lettered",
		"entry_id", entry.ID,
		"user_id", entry.UserID,
		"booking_id", bookingID,
		"action_type", entry.ActionType,
		"description", entry.Description,
		"cause", cause,
	)
	return nil
}
