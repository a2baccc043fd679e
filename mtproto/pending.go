package mtproto

import (
	"sync"

	"gitlab.com/yawning/avl.git"
)

// trackedMessage is what pendingIndex keeps per in-flight outbound message,
// enough to find and rebuild a retry batch when a bad_msg_notification
// arrives referencing one sibling of a container.
type trackedMessage struct {
	MsgID          int64
	Body           []byte
	ContentRelated bool
	ContainerMsgID int64 // 0 if this message was sent bare

	node *avl.Node
}

// pendingIndex tracks every outbound message whose fate (ack, rpc_result, or
// resend) is still unresolved, ordered by msg_id so a bad_msg_notification
// for one container member can be used to look up its siblings.
type pendingIndex struct {
	mu   sync.Mutex
	tree *avl.Tree
	byID map[int64]*trackedMessage
}

func newPendingIndex() *pendingIndex {
	return &pendingIndex{
		tree: avl.New(func(a, b interface{}) int {
			x, y := a.(*trackedMessage).MsgID, b.(*trackedMessage).MsgID
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			default:
				return 0
			}
		}),
		byID: make(map[int64]*trackedMessage),
	}
}

func (p *pendingIndex) Track(m *trackedMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m.node = p.tree.Insert(m)
	p.byID[m.MsgID] = m
}

func (p *pendingIndex) Untrack(msgID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.byID[msgID]
	if !ok {
		return
	}
	p.tree.Remove(m.node)
	delete(p.byID, msgID)
}

func (p *pendingIndex) Get(msgID int64) (*trackedMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.byID[msgID]
	return m, ok
}

// Siblings returns every tracked message sharing containerMsgID, in msg_id
// order, by walking the whole tree from its first entry — the resend pass needs
// every co-batched message, not just the one the server complained about.
func (p *pendingIndex) Siblings(msgID, containerMsgID int64) []*trackedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if containerMsgID == 0 {
		if m, ok := p.byID[msgID]; ok {
			return []*trackedMessage{m}
		}
		return nil
	}

	var out []*trackedMessage
	iter := p.tree.Iterator(avl.Forward)
	for node := iter.First(); node != nil; node = iter.Next() {
		m := node.Value.(*trackedMessage)
		if m.ContainerMsgID == containerMsgID {
			out = append(out, m)
		}
	}
	return out
}

func (p *pendingIndex) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tree.Len()
}

// Drain empties the index and returns everything that was tracked, used
// when a fatal transport error fails every outstanding request at once.
func (p *pendingIndex) Drain() []*trackedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*trackedMessage, 0, len(p.byID))
	for _, m := range p.byID {
		out = append(out, m)
	}
	p.tree = avl.New(func(a, b interface{}) int {
		x, y := a.(*trackedMessage).MsgID, b.(*trackedMessage).MsgID
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	})
	p.byID = make(map[int64]*trackedMessage)
	return out
}
