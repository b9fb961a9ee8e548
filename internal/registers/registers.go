// internal/registers/registers.go
package registers

import "sync"

// Kind tags a transaction result.
type Kind uint8

const (
	Pending  Kind = iota // not resolved yet
	ReadData             // Values holds the registers read
	WriteAck             // Values holds the echoed register value
	Fault                // transport or protocol failure; Err is set
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case ReadData:
		return "read-data"
	case WriteAck:
		return "write-ack"
	case Fault:
		return "fault"
	default:
		return "unknown"
	}
}

// Result is the outcome of one register transaction.
// Callers switch on Kind; Values may be shorter than requested.
type Result struct {
	Kind   Kind
	Values []uint16
	Err    error
}

// Client issues register transactions against one device.
// Both calls return immediately; the handle resolves later.
type Client interface {
	ReadHoldingRegisters(addr, count uint16) *Transaction
	WriteHoldingRegister(addr, value uint16) *Transaction
}

// Transaction is the handle for one in-flight request.
type Transaction struct {
	once sync.Once
	mu   sync.Mutex
	res  Result
}

// NewTransaction returns an unresolved handle.
func NewTransaction() *Transaction {
	return &Transaction{res: Result{Kind: Pending}}
}

// Resolved returns a handle that is already done.
func Resolved(res Result) *Transaction {
	t := NewTransaction()
	t.Resolve(res)
	return t
}

// Resolve completes the transaction. Only the first call has effect.
func (t *Transaction) Resolve(res Result) {
	if res.Kind == Pending {
		res.Kind = Fault
	}
	t.once.Do(func() {
		t.mu.Lock()
		t.res = res
		t.mu.Unlock()
	})
}

// Result never blocks; Kind is Pending until resolved.
func (t *Transaction) Result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.res
}

// Done reports whether the transaction has resolved.
func (t *Transaction) Done() bool {
	return t.Result().Kind != Pending
}
