package registry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/farmpulse/farmpulse/internal/domain"
	"github.com/farmpulse/farmpulse/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second
	probeTimeout   = 5 * time.Second
)

type userClients map[*Client]struct{}

// registryCmd is the command interface for the Registry actor.
type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type registerCmd struct {
	baseRegistryCmd
	userID       int64
	client       *Client
	errorChannel chan error
}

type unregisterCmd struct {
	baseRegistryCmd
	userID int64
	client *Client
	// keepOpen leaves the writer running and the transport open: the
	// unsubscribe path detaches the connection but keeps it usable.
	keepOpen bool
}

type snapshotCmd struct {
	baseRegistryCmd
	userID       int64
	replyChannel chan []*Client
}

type countsCmd struct {
	baseRegistryCmd
	userID       int64
	total        bool
	replyChannel chan int
}

type usersCmd struct {
	baseRegistryCmd
	replyChannel chan []int64
}

type deliverCmd struct {
	baseRegistryCmd
	userID       int64
	all          bool
	data         []byte
	replyChannel chan DeliveryResult
}

type sweepCmd struct {
	baseRegistryCmd
	staleAfter   time.Duration
	replyChannel chan SweepResult
}

type stopCmd struct {
	baseRegistryCmd
}

// DeliveryResult summarizes one fan-out: how many per-connection delivery
// attempts were made and how many of them failed.
type DeliveryResult struct {
	Attempted int
	Failed    int
}

// SweepResult summarizes one heartbeat sweep.
type SweepResult struct {
	Probed  int
	Evicted int
}

// Registry tracks the set of live connections per user id.
//
// It is an actor: a single goroutine owns the maps and processes commands
// from a channel, so register/unregister/deliver/sweep are serialized and no
// caller can observe a half-updated state. Connections funnel in through the
// protocol handler and out through Unregister only.
type Registry struct {
	cmdCh      chan registryCmd
	clock      clockwork.Clock
	users      map[int64]userClients
	owners     map[*Client]int64
	maxPerUser int
	done       chan struct{}
}

// NewRegistry creates and starts a registry. maxPerUser caps concurrent
// connections per user id (0 means unlimited).
func NewRegistry(clock clockwork.Clock, maxPerUser int) *Registry {
	r := &Registry{
		cmdCh:      make(chan registryCmd, 256),
		clock:      clock,
		users:      make(map[int64]userClients),
		owners:     make(map[*Client]int64),
		maxPerUser: maxPerUser,
		done:       make(chan struct{}),
	}
	go r.run()
	return r
}

// Register files client under userID, creating the user's set if absent.
// Registering the same client twice is a no-op; registering it under a new
// user id moves it out of the old set first. Returns
// domain.ErrTooManyConnections when the per-user cap is reached (the client
// is closed in that case).
func (r *Registry) Register(userID int64, client *Client) error {
	errCh := make(chan error, 1)
	if err := r.send(registerCmd{userID: userID, client: client, errorChannel: errCh}); err != nil {
		return err
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	case <-r.done:
		return domain.ErrRegistryStopped
	}
}

// Unregister removes client from userID's set. No-op if the client is not
// registered there. The client's writer is stopped and the transport closed.
func (r *Registry) Unregister(userID int64, client *Client) {
	_ = r.send(unregisterCmd{userID: userID, client: client})
}

// Detach removes client from userID's set but leaves the transport open and
// the writer running, so the connection can re-subscribe later. No-op if the
// client is not registered there.
func (r *Registry) Detach(userID int64, client *Client) {
	_ = r.send(unregisterCmd{userID: userID, client: client, keepOpen: true})
}

// ConnectionsFor returns a snapshot of the user's current connections. The
// slice is a copy and safe to iterate while the registry keeps mutating.
func (r *Registry) ConnectionsFor(userID int64) []*Client {
	replyCh := make(chan []*Client, 1)
	if err := r.send(snapshotCmd{userID: userID, replyChannel: replyCh}); err != nil {
		return nil
	}
	return await(r, replyCh, nil)
}

// Count returns the total number of registered connections.
func (r *Registry) Count() int {
	replyCh := make(chan int, 1)
	if err := r.send(countsCmd{total: true, replyChannel: replyCh}); err != nil {
		return 0
	}
	return await(r, replyCh, 0)
}

// CountFor returns the number of registered connections for one user.
func (r *Registry) CountFor(userID int64) int {
	replyCh := make(chan int, 1)
	if err := r.send(countsCmd{userID: userID, replyChannel: replyCh}); err != nil {
		return 0
	}
	return await(r, replyCh, 0)
}

// Users returns the user ids that currently have at least one connection.
func (r *Registry) Users() []int64 {
	replyCh := make(chan []int64, 1)
	if err := r.send(usersCmd{replyChannel: replyCh}); err != nil {
		return nil
	}
	return await(r, replyCh, nil)
}

// Deliver enqueues data on every connection registered for userID. A full
// send buffer counts as a failed attempt and evicts the slow connection;
// other connections are unaffected.
func (r *Registry) Deliver(userID int64, data []byte) DeliveryResult {
	replyCh := make(chan DeliveryResult, 1)
	if err := r.send(deliverCmd{userID: userID, data: data, replyChannel: replyCh}); err != nil {
		return DeliveryResult{}
	}
	return await(r, replyCh, DeliveryResult{})
}

// DeliverAll enqueues data on every registered connection of every user.
func (r *Registry) DeliverAll(data []byte) DeliveryResult {
	replyCh := make(chan DeliveryResult, 1)
	if err := r.send(deliverCmd{all: true, data: data, replyChannel: replyCh}); err != nil {
		return DeliveryResult{}
	}
	return await(r, replyCh, DeliveryResult{})
}

// Sweep probes every registered connection and evicts the ones that failed
// the probe or have shown no activity within staleAfter. Called by the
// heartbeat monitor.
func (r *Registry) Sweep(staleAfter time.Duration) SweepResult {
	replyCh := make(chan SweepResult, 1)
	if err := r.send(sweepCmd{staleAfter: staleAfter, replyChannel: replyCh}); err != nil {
		return SweepResult{}
	}
	return await(r, replyCh, SweepResult{})
}

// Stop shuts the registry down, closing every connection with a close frame.
func (r *Registry) Stop() {
	if err := r.send(stopCmd{}); err != nil {
		return
	}
	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
	case <-timer.Chan():
		slog.Warn("Registry stop timeout exceeded", "timeout", commandTimeout)
	}
}

func (r *Registry) send(cmd registryCmd) error {
	select {
	case r.cmdCh <- cmd:
		return nil
	case <-r.done:
		return domain.ErrRegistryStopped
	}
}

func await[T any](r *Registry, replyCh chan T, fallback T) T {
	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case v := <-replyCh:
		return v
	case <-timer.Chan():
		slog.Warn("Registry command timed out", "timeout", commandTimeout)
		return fallback
	case <-r.done:
		return fallback
	}
}

func (r *Registry) run() {
	defer close(r.done)
	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			r.handleRegister(c)
		case unregisterCmd:
			if c.keepOpen {
				r.handleDetach(c.userID, c.client)
			} else {
				r.handleUnregister(c.userID, c.client)
			}
		case snapshotCmd:
			c.replyChannel <- r.snapshot(c.userID)
		case countsCmd:
			if c.total {
				total := 0
				for _, clients := range r.users {
					total += len(clients)
				}
				c.replyChannel <- total
			} else {
				c.replyChannel <- len(r.users[c.userID])
			}
		case usersCmd:
			ids := make([]int64, 0, len(r.users))
			for id := range r.users {
				ids = append(ids, id)
			}
			c.replyChannel <- ids
		case deliverCmd:
			c.replyChannel <- r.handleDeliver(c)
		case sweepCmd:
			c.replyChannel <- r.handleSweep(c.staleAfter)
		case stopCmd:
			r.handleStop()
			return
		}
	}
}

func (r *Registry) handleRegister(c registerCmd) {
	// Re-register under a new user id: leave the old set first so the
	// connection is never filed under two users.
	if oldID, owned := r.owners[c.client]; owned {
		if oldID == c.userID {
			c.errorChannel <- nil
			return
		}
		r.detach(oldID, c.client)
	}

	clients, exists := r.users[c.userID]
	if r.maxPerUser > 0 && len(clients) >= r.maxPerUser {
		slog.Warn("Rejecting connection: max connections reached", "user_id", c.userID, "max_conns", r.maxPerUser)
		c.client.Stop()
		c.errorChannel <- domain.ErrTooManyConnections
		return
	}
	if !exists {
		clients = make(userClients)
		r.users[c.userID] = clients
	}

	clients[c.client] = struct{}{}
	r.owners[c.client] = c.userID
	r.updateGauges()

	slog.Debug("Connection registered", "user_id", c.userID, "user_connections", len(clients))
	c.errorChannel <- nil
}

func (r *Registry) handleUnregister(userID int64, client *Client) {
	clients, exists := r.users[userID]
	if !exists {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}

	client.Stop()
	r.detach(userID, client)
	r.updateGauges()

	if len(r.users[userID]) == 0 {
		slog.Info("Last connection closed", "user_id", userID)
	} else {
		slog.Debug("Connection unregistered", "user_id", userID, "remaining", len(r.users[userID]))
	}
}

func (r *Registry) handleDetach(userID int64, client *Client) {
	clients, exists := r.users[userID]
	if !exists {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}

	r.detach(userID, client)
	r.updateGauges()
	slog.Debug("Connection detached", "user_id", userID, "remaining", len(r.users[userID]))
}

// detach removes the client from the user's set and prunes an empty set.
// The caller owns stopping the client.
func (r *Registry) detach(userID int64, client *Client) {
	clients := r.users[userID]
	delete(clients, client)
	delete(r.owners, client)
	if len(clients) == 0 {
		delete(r.users, userID)
	}
}

func (r *Registry) snapshot(userID int64) []*Client {
	clients := r.users[userID]
	out := make([]*Client, 0, len(clients))
	for client := range clients {
		out = append(out, client)
	}
	return out
}

func (r *Registry) handleDeliver(c deliverCmd) DeliveryResult {
	var result DeliveryResult

	targets := make(map[int64]userClients, 1)
	if c.all {
		for id, clients := range r.users {
			targets[id] = clients
		}
	} else if clients, exists := r.users[c.userID]; exists {
		targets[c.userID] = clients
	}

	for userID, clients := range targets {
		var slow []*Client
		for client := range clients {
			result.Attempted++
			if client.TrySend(c.data) {
				metrics.BroadcastDeliveriesTotal.WithLabelValues("delivered").Inc()
			} else {
				result.Failed++
				metrics.BroadcastDeliveriesTotal.WithLabelValues("failed").Inc()
				slow = append(slow, client)
			}
		}
		for _, client := range slow {
			slog.Warn("Evicting slow connection", "user_id", userID)
			metrics.RegistrySlowClientsEvicted.Inc()
			r.handleUnregister(userID, client)
		}
	}

	return result
}

func (r *Registry) handleSweep(staleAfter time.Duration) SweepResult {
	start := r.clock.Now()
	var result SweepResult

	type eviction struct {
		userID int64
		client *Client
		reason string
	}
	var evict []eviction

	for userID, clients := range r.users {
		for client := range clients {
			if r.clock.Since(client.LastActivity()) > staleAfter {
				evict = append(evict, eviction{userID, client, "stale"})
				continue
			}
			result.Probed++
			if err := client.Ping(probeTimeout); err != nil {
				evict = append(evict, eviction{userID, client, "probe_failed"})
			}
		}
	}

	for _, e := range evict {
		slog.Info("Heartbeat evicting connection", "user_id", e.userID, "reason", e.reason)
		metrics.HeartbeatEvictionsTotal.WithLabelValues(e.reason).Inc()
		r.handleUnregister(e.userID, e.client)
		result.Evicted++
	}

	metrics.HeartbeatSweepDuration.Observe(r.clock.Since(start).Seconds())
	return result
}

func (r *Registry) handleStop() {
	total := 0
	for userID, clients := range r.users {
		for client := range clients {
			client.StopWithReason("server shutting down")
			delete(r.owners, client)
			total++
		}
		delete(r.users, userID)
	}
	r.updateGauges()
	slog.Info("Registry stopped", "closed_connections", total)
}

func (r *Registry) updateGauges() {
	metrics.RegistryActiveUsers.Set(float64(len(r.users)))
	metrics.RegistryConnectedClients.Set(float64(len(r.owners)))
}
