package ledger

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const MaxPageSize = 100

// MaxPage keeps (page-1)*pageSize inside an int32, and so inside a Postgres
// OFFSET, for every valid page size.
const MaxPage = math.MaxInt32 / MaxPageSize

// TransactionRecord is one balance-affecting event. Amount is signed:
// credits are positive, debits negative.
type TransactionRecord struct {
	ID          uuid.UUID
	Seq         int64
	MemberID    uuid.UUID
	Description string
	Details     string
	Amount      decimal.Decimal
	CreatedAt   time.Time
}

// CheckPage validates a 1-based page request.
func CheckPage(page, pageSize int) error {
	if page < 1 {
		return Invalid("page", "must be at least 1")
	}
	if page > MaxPage {
		return Invalid("page", fmt.Sprintf("must not exceed %d", MaxPage))
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return Invalid("page_size", "must be between 1 and 100")
	}
	return nil
}

// pageBounds returns the slice bounds of a page. Pages outside CheckPage's
// range come back past any slice so callers see an empty page.
func pageBounds(page, pageSize int) (int, int) {
	if page < 1 || page > MaxPage || pageSize < 1 || pageSize > MaxPageSize {
		return math.MaxInt, math.MaxInt
	}
	start := (page - 1) * pageSize
	return start, start + pageSize
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

// Log is an append-only, in-memory transaction log. The log stamps each
// record's sequence and creation time, so creation order and insertion order
// agree.
type Log struct {
	mu       sync.RWMutex
	now      func() time.Time
	seq      int64
	last     time.Time
	byMember map[uuid.UUID][]TransactionRecord
}

func NewLog(now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{
		now:      now,
		byMember: make(map[uuid.UUID][]TransactionRecord),
	}
}

// Append stores rec and returns it as stored.
func (l *Log) Append(rec TransactionRecord) TransactionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	at := l.now().UTC()
	if at.Before(l.last) {
		at = l.last
	}
	l.last = at
	l.seq++

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.Seq = l.seq
	rec.CreatedAt = at
	l.byMember[rec.MemberID] = append(l.byMember[rec.MemberID], rec)
	return rec
}

// Query returns one page of a member's records, newest first, and the
// member's total record count.
func (l *Log) Query(memberID uuid.UUID, page, pageSize int) ([]TransactionRecord, int, error) {
	if err := CheckPage(page, pageSize); err != nil {
		return nil, 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	recs := l.byMember[memberID]
	total := len(recs)
	start, end := pageBounds(page, pageSize)
	start, end = clamp(start, total), clamp(end, total)

	out := make([]TransactionRecord, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, recs[total-1-i])
	}
	return out, total, nil
}

// Sum totals every record of a member.
func (l *Log) Sum(memberID uuid.UUID) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sum := decimal.Zero
	for _, r := range l.byMember[memberID] {
		sum = sum.Add(r.Amount)
	}
	return sum
}
