package facade

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/teeplane/pkg/apierrors"
)

// Role identifies which core component a bus registration belongs to.
type Role string

const (
	RoleStore      Role = "store"
	RolePlacement  Role = "placement"
	RoleReconciler Role = "reconciler"
)

// Registration is the structure a core component presents to the bus when
// it joins: who it is, what role it plays, and what message types it can
// accept.
type Registration struct {
	ID           string
	Role         Role
	Capabilities []string
}

// Message is a typed envelope exchanged over a bus channel pair. Topic
// names a message type the sender and receiver both understand; the bus
// itself never inspects Payload.
type Message struct {
	Topic   string
	Payload []byte
}

// Channels is the bidirectional pair a registered component reads from and
// writes to once BusPort.Register returns. Send is for outbound messages;
// Receive delivers inbound ones.
type Channels struct {
	Send    chan<- Message
	Receive <-chan Message
}

// BusPort is the contract a component binds to for inter-component
// messaging. Encryption and signing of the wire form happen entirely on
// the collaborator side; this contract only fixes the in-process shape.
type BusPort interface {
	Register(reg Registration) (Channels, error)
	Unregister(id string)
}

// InMemoryBus is a reference BusPort implementation that wires registered
// components together with buffered Go channels, for use in tests and
// single-process deployments where no external bus collaborator is
// present.
type InMemoryBus struct {
	mu      sync.Mutex
	members map[string]*busMember
	bufSize int
}

type busMember struct {
	reg Registration
	in  chan Message
	out chan Message
}

// NewInMemoryBus constructs a bus whose per-member channels are buffered to
// bufSize.
func NewInMemoryBus(bufSize int) *InMemoryBus {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &InMemoryBus{members: make(map[string]*busMember), bufSize: bufSize}
}

// Register implements BusPort. If reg.ID is empty a UUID is assigned.
func (b *InMemoryBus) Register(reg Registration) (Channels, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	if _, exists := b.members[reg.ID]; exists {
		return Channels{}, apierrors.New(apierrors.KindInternal, fmt.Sprintf("bus: id %q already registered", reg.ID))
	}

	m := &busMember{
		reg: reg,
		in:  make(chan Message, b.bufSize),
		out: make(chan Message, b.bufSize),
	}
	b.members[reg.ID] = m

	return Channels{Send: m.in, Receive: m.out}, nil
}

// Unregister removes a member and closes its inbound queue (the Receive
// channel). Nothing further is published to it; messages already buffered
// there can still be drained.
func (b *InMemoryBus) Unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.members[id]; ok {
		close(m.out)
		delete(b.members, id)
	}
}

// Publish delivers msg to every registered member with the given role,
// mirroring the topic-addressed fan-out a real bus collaborator would
// perform after decrypting and verifying a wire message.
func (b *InMemoryBus) Publish(role Role, msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.members {
		if m.reg.Role != role {
			continue
		}
		select {
		case m.out <- msg:
		default:
		}
	}
}
