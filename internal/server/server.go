package server

import (
	"context"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/parleychat/parley/internal/stats"
)

const broadcastQueueSize = 256

type stopRequest struct {
	done chan struct{}
}

// ChatServer tracks the single live connection per user and fans
// server events out to all of them from one goroutine.
type ChatServer struct {
	log               *log.Logger
	stats             stats.StatsProvider
	conns             map[int]*Client
	connsLock         sync.Mutex
	broadcastChan     chan *Event
	stop              chan stopRequest
	heartbeatInterval time.Duration
}

func NewChatServer(logger *log.Logger, su stats.StatsProvider, heartbeatInterval time.Duration) (*ChatServer, error) {
	cs := &ChatServer{
		log:               logger,
		stats:             su,
		conns:             make(map[int]*Client),
		broadcastChan:     make(chan *Event, broadcastQueueSize),
		stop:              make(chan stopRequest),
		heartbeatInterval: heartbeatInterval,
	}

	su.RegisterMetric("NumActiveConnections")
	su.RegisterMetric("TotalEventsBroadcast")
	su.RegisterMetric("TotalMessagesCreated")
	su.RegisterMetric("TotalHeartbeatEvictions")

	return cs, nil
}

func (cs *ChatServer) Run() {
	ticker := time.NewTicker(cs.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-cs.broadcastChan:
			cs.handleBroadcast(ev)
		case <-ticker.C:
			cs.sweepConnections()
		case req := <-cs.stop:
			cs.log.Println("closing client connections")
			cs.closeAllClients()
			close(req.done)
			return
		}
	}
}

// RegisterClient makes c the live connection for its user. An earlier
// connection for the same user is closed and replaced, the newest
// writer always wins.
func (cs *ChatServer) RegisterClient(c *Client) {
	prev := cs.addClient(c)
	if prev != nil {
		cs.log.Printf("superseding connection for user %q", c.user.Username)
		prev.closeWithReason(CloseSuperseded, "superseded")
		prev.stopClient()
	} else {
		cs.stats.Incr("NumActiveConnections")
	}

	c.queueEvent(NewEvent(EventConnectionEstablished, ConnectionEstablishedPayload{
		SessionId:     c.sessionId,
		User:          c.user,
		OnlineUserIds: cs.onlineUserIds(),
	}))

	if prev == nil {
		ev := NewEvent(EventPresenceChange, PresencePayload{UserId: c.user.Id, Online: true})
		ev.SkipUserId = c.user.Id
		cs.Broadcast(ev)
	}
}

// DeRegisterClient removes c if it is still the live connection for
// its user. A superseded connection cleaning itself up must not evict
// its replacement, so removal compares pointers.
func (cs *ChatServer) DeRegisterClient(c *Client) {
	if !cs.removeClient(c) {
		return
	}

	cs.stats.Decr("NumActiveConnections")

	ev := NewEvent(EventPresenceChange, PresencePayload{UserId: c.user.Id, Online: false})
	ev.SkipUserId = c.user.Id
	cs.Broadcast(ev)
}

func (cs *ChatServer) addClient(c *Client) *Client {
	cs.connsLock.Lock()
	defer cs.connsLock.Unlock()

	prev := cs.conns[c.user.Id]
	cs.conns[c.user.Id] = c

	return prev
}

func (cs *ChatServer) removeClient(c *Client) bool {
	cs.connsLock.Lock()
	defer cs.connsLock.Unlock()

	if cs.conns[c.user.Id] != c {
		return false
	}

	delete(cs.conns, c.user.Id)

	return true
}

// LookupClient returns the live connection for a user, or nil if the
// user has none.
func (cs *ChatServer) LookupClient(userId int) *Client {
	cs.connsLock.Lock()
	defer cs.connsLock.Unlock()

	return cs.conns[userId]
}

func (cs *ChatServer) snapshotClients() []*Client {
	cs.connsLock.Lock()
	defer cs.connsLock.Unlock()

	clients := make([]*Client, 0, len(cs.conns))
	for _, c := range cs.conns {
		clients = append(clients, c)
	}

	return clients
}

func (cs *ChatServer) onlineUserIds() []int {
	cs.connsLock.Lock()
	defer cs.connsLock.Unlock()

	ids := make([]int, 0, len(cs.conns))
	for id := range cs.conns {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}

// Broadcast queues an event for fan-out. When the queue is full the
// event is dropped rather than blocking the caller.
func (cs *ChatServer) Broadcast(ev *Event) {
	select {
	case cs.broadcastChan <- ev:
	default:
		cs.log.Printf("broadcast channel full, dropping %s event", ev.Type)
	}
}

func (cs *ChatServer) handleBroadcast(ev *Event) {
	if _, err := ev.bytes(); err != nil {
		cs.log.Println("failed to serialize event:", err)
		return
	}

	cs.stats.Incr("TotalEventsBroadcast")
	if ev.Type == EventMessageCreated {
		cs.stats.Incr("TotalMessagesCreated")
	}

	for _, c := range cs.snapshotClients() {
		if ev.SkipUserId != 0 && c.user.Id == ev.SkipUserId {
			continue
		}

		if !c.queueEvent(ev) {
			cs.log.Printf("send queue full for user %q, dropping connection", c.user.Username)
			c.stopClient()
		}
	}
}

// sweepConnections runs once per heartbeat interval. A connection
// that has not answered the previous ping is evicted, everyone else
// gets the next ping. A dead peer is detected within two intervals.
func (cs *ChatServer) sweepConnections() {
	for _, c := range cs.snapshotClients() {
		if !c.alive.CompareAndSwap(true, false) {
			cs.log.Printf("no heartbeat from user %q, dropping connection", c.user.Username)
			cs.stats.Incr("TotalHeartbeatEvictions")
			c.closeWithReason(CloseHeartbeatTimeout, "heartbeat timeout")
			c.stopClient()
			cs.DeRegisterClient(c)
			continue
		}

		c.schedulePing()
	}
}

func (cs *ChatServer) closeAllClients() {
	for _, c := range cs.snapshotClients() {
		c.stopClient()
	}
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	req := stopRequest{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
