package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/store"
)

// memStore is an in-memory stand-in for the Postgres store with the same guard semantics
type memStore struct {
	mu            sync.Mutex
	seq           int64
	clock         time.Time
	vehicles      map[int64]*models.Vehicle
	packages      map[int64]*models.Package
	bookings      map[int64]*models.Booking
	invoices      map[int64]*models.Invoice // by booking
	payments      []models.Payment
	conversations map[int64]*models.Conversation
	participants  map[int64]map[int64]*models.Participant
	messages      []models.Message
	notifications map[int64]*models.Notification
	processed     map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		clock:         time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		vehicles:      map[int64]*models.Vehicle{},
		packages:      map[int64]*models.Package{},
		bookings:      map[int64]*models.Booking{},
		invoices:      map[int64]*models.Invoice{},
		conversations: map[int64]*models.Conversation{},
		participants:  map[int64]map[int64]*models.Participant{},
		notifications: map[int64]*models.Notification{},
		processed:     map[string]string{},
	}
}

func (m *memStore) nextID() int64 {
	m.seq++
	return m.seq
}

// tick returns a strictly increasing timestamp
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

// catalog

func (m *memStore) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.vehicles {
		if other.PlateNumber == v.PlateNumber {
			return fmt.Errorf("%w: vehicles_plate_number_key", store.ErrDuplicate)
		}
	}
	v.ID = m.nextID()
	v.CreatedAt = m.tick()
	v.UpdatedAt = v.CreatedAt
	cp := *v
	m.vehicles[v.ID] = &cp
	return nil
}

func (m *memStore) UpdateVehicle(ctx context.Context, v *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.vehicles[v.ID]
	if !ok {
		return store.ErrNotFound
	}
	status, odo := cur.Status, cur.Odometer
	cp := *v
	cp.Status = status
	if odo > cp.Odometer {
		cp.Odometer = odo
	}
	m.vehicles[v.ID] = &cp
	return nil
}

func (m *memStore) GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) ListVehicles(ctx context.Context, f store.VehicleFilter) ([]models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Vehicle{}
	for _, v := range m.vehicles {
		if (f.Status == "" || v.Status == f.Status) && (f.Category == "" || v.Category == f.Category) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SetVehicleStatus(ctx context.Context, id int64, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok || v.Status != from {
		return store.ErrConflict
	}
	for _, b := range m.bookings {
		if b.VehicleID == id && (b.Status == models.BookingStatusConfirmed || b.Status == models.BookingStatusCollected) {
			return store.ErrConflict
		}
	}
	v.Status = to
	return nil
}

func (m *memStore) CreatePackage(ctx context.Context, p *models.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextID()
	p.CreatedAt = m.tick()
	cp := *p
	m.packages[p.ID] = &cp
	return nil
}

func (m *memStore) UpdatePackage(ctx context.Context, p *models.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packages[p.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *p
	m.packages[p.ID] = &cp
	return nil
}

func (m *memStore) GetPackageByID(ctx context.Context, id int64) (*models.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.packages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListPackages(ctx context.Context, vehicleID int64, activeOnly bool) ([]models.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Package{}
	for _, p := range m.packages {
		if activeOnly && !p.Active {
			continue
		}
		if vehicleID != 0 && !packageAppliesTo(p, vehicleID) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// bookings

func (m *memStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.bookings {
		if other.IdempotencyKey == b.IdempotencyKey {
			return fmt.Errorf("%w: bookings_idempotency_key_key", store.ErrDuplicate)
		}
	}
	b.ID = m.nextID()
	b.CreatedAt = m.tick()
	b.UpdatedAt = b.CreatedAt
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memStore) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) GetBookingByIdempotencyKey(ctx context.Context, key string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.IdempotencyKey == key {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListBookings(ctx context.Context, f store.BookingFilter) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Booking{}
	for _, b := range m.bookings {
		if (f.CustomerID == 0 || b.CustomerID == f.CustomerID) &&
			(f.VehicleID == 0 || b.VehicleID == f.VehicleID) &&
			(f.Status == "" || b.Status == f.Status) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) HasOverlappingBooking(ctx context.Context, vehicleID int64, start, end time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.VehicleID == vehicleID && models.IsActiveBookingStatus(b.Status) &&
			b.StartAt.Before(end) && b.EndAt.After(start) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) updateGuarded(b *models.Booking, from string) error {
	cur, ok := m.bookings[b.ID]
	if !ok || cur.Status != from {
		return store.ErrConflict
	}
	b.UpdatedAt = m.tick()
	b.DepositPaid = cur.DepositPaid
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memStore) syncVehicle(vehicleID int64) {
	v, ok := m.vehicles[vehicleID]
	if !ok || v.Status == models.VehicleStatusMaintenance {
		return
	}
	status := models.VehicleStatusAvailable
	for _, b := range m.bookings {
		if b.VehicleID != vehicleID {
			continue
		}
		if b.Status == models.BookingStatusCollected {
			status = models.VehicleStatusRented
			break
		}
		if b.Status == models.BookingStatusConfirmed {
			status = models.VehicleStatusReserved
		}
	}
	v.Status = status
}

func (m *memStore) ApplyTransition(ctx context.Context, t store.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateGuarded(t.Booking, t.From); err != nil {
		return err
	}
	if t.VehicleOdometer != nil {
		if v, ok := m.vehicles[t.Booking.VehicleID]; ok && *t.VehicleOdometer > v.Odometer {
			v.Odometer = *t.VehicleOdometer
		}
	}
	if t.SyncVehicle {
		m.syncVehicle(t.Booking.VehicleID)
	}
	return nil
}

func (m *memStore) AddDeposit(ctx context.Context, bookingID, amount int64, statuses []string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, store.ErrConflict
	}
	for _, s := range statuses {
		if b.Status == s {
			b.DepositPaid += amount
			cp := *b
			return &cp, nil
		}
	}
	return nil, store.ErrConflict
}

func (m *memStore) IssueInvoice(ctx context.Context, inv *models.Invoice, b *models.Booking, settle bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.invoices[inv.BookingID]; exists {
		return fmt.Errorf("%w: invoices_booking_id_key", store.ErrDuplicate)
	}
	b.Status = models.BookingStatusInvoiced
	if err := m.updateGuarded(b, models.BookingStatusCompleted); err != nil {
		return err
	}
	inv.ID = m.nextID()
	inv.IssuedAt = m.tick()
	cp := *inv
	m.invoices[inv.BookingID] = &cp
	if settle {
		b.Status = models.BookingStatusPaid
		return m.updateGuarded(b, models.BookingStatusInvoiced)
	}
	return nil
}

func (m *memStore) GetInvoiceByBookingID(ctx context.Context, bookingID int64) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[bookingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memStore) RecordPayment(ctx context.Context, p *models.Payment) (*models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[p.BookingID]
	b := m.bookings[p.BookingID]
	if !ok || b == nil || inv.Status != models.InvoiceStatusOpen || inv.BalanceDue < p.Amount ||
		b.Status != models.BookingStatusInvoiced {
		return nil, store.ErrConflict
	}
	inv.AmountPaid += p.Amount
	inv.BalanceDue -= p.Amount
	if inv.BalanceDue == 0 {
		now := m.tick()
		inv.Status = models.InvoiceStatusPaid
		inv.PaidAt = &now
		b.Status = models.BookingStatusPaid
	}
	p.ID = m.nextID()
	p.InvoiceID = inv.ID
	p.CreatedAt = m.tick()
	m.payments = append(m.payments, *p)
	cp := *inv
	return &cp, nil
}

func (m *memStore) ListPaymentsByBookingID(ctx context.Context, bookingID int64) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Payment{}
	for _, p := range m.payments {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	return out, nil
}

// chat

func (m *memStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID()
	c.CreatedAt = m.tick()
	cp := *c
	m.conversations[c.ID] = &cp
	m.participants[c.ID] = map[int64]*models.Participant{
		c.CustomerID: {ConversationID: c.ID, UserID: c.CustomerID, Role: models.RoleCustomer, LastReadAt: c.CreatedAt},
	}
	return nil
}

func (m *memStore) GetConversationByID(ctx context.Context, id int64) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) unreadLocked(convID, userID int64) int64 {
	var since time.Time
	if p, ok := m.participants[convID][userID]; ok {
		since = p.LastReadAt
	}
	var n int64
	for _, msg := range m.messages {
		if msg.ConversationID == convID && msg.SenderID != userID && msg.CreatedAt.After(since) {
			n++
		}
	}
	return n
}

func (m *memStore) ListConversations(ctx context.Context, userID, customerID int64, status string) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Conversation{}
	for _, c := range m.conversations {
		if (customerID == 0 || c.CustomerID == customerID) && (status == "" || c.Status == status) {
			cp := *c
			cp.UnreadCount = m.unreadLocked(c.ID, userID)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) CloseConversation(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok || c.Status != models.ConversationStatusOpen {
		return store.ErrConflict
	}
	c.Status = models.ConversationStatusClosed
	return nil
}

func (m *memStore) EnsureParticipant(ctx context.Context, conversationID, userID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[conversationID][userID]; !ok {
		if m.participants[conversationID] == nil {
			m.participants[conversationID] = map[int64]*models.Participant{}
		}
		m.participants[conversationID][userID] = &models.Participant{ConversationID: conversationID, UserID: userID, Role: role}
	}
	return nil
}

func (m *memStore) ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Participant{}
	for _, p := range m.participants[conversationID] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ClientMessageID != nil {
		for _, other := range m.messages {
			if other.ConversationID == msg.ConversationID && other.ClientMessageID != nil &&
				*other.ClientMessageID == *msg.ClientMessageID {
				return fmt.Errorf("%w: messages_conversation_id_client_message_id_key", store.ErrDuplicate)
			}
		}
	}
	msg.ID = m.nextID()
	msg.CreatedAt = m.tick()
	m.messages = append(m.messages, *msg)

	created := msg.CreatedAt
	m.conversations[msg.ConversationID].LastMessageAt = &created
	if m.participants[msg.ConversationID] == nil {
		m.participants[msg.ConversationID] = map[int64]*models.Participant{}
	}
	m.participants[msg.ConversationID][msg.SenderID] = &models.Participant{
		ConversationID: msg.ConversationID, UserID: msg.SenderID, Role: msg.SenderRole, LastReadAt: created,
	}
	return nil
}

func (m *memStore) GetMessageByClientID(ctx context.Context, conversationID int64, clientID string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.ClientMessageID != nil && *msg.ClientMessageID == clientID {
			cp := msg
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListMessages(ctx context.Context, conversationID, beforeID int64, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := []models.Message{}
	for i := len(m.messages) - 1; i >= 0 && len(page) < limit; i-- {
		msg := m.messages[i]
		if msg.ConversationID == conversationID && (beforeID == 0 || msg.ID < beforeID) {
			page = append(page, msg)
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	return page, nil
}

func (m *memStore) MarkConversationRead(ctx context.Context, conversationID, userID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	if m.participants[conversationID] == nil {
		m.participants[conversationID] = map[int64]*models.Participant{}
	}
	m.participants[conversationID][userID] = &models.Participant{
		ConversationID: conversationID, UserID: userID, Role: role, LastReadAt: now,
	}
	return nil
}

func (m *memStore) UnreadCounts(ctx context.Context, userID int64) (map[int64]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]int64{}
	for convID, ps := range m.participants {
		if _, ok := ps[userID]; ok {
			out[convID] = m.unreadLocked(convID, userID)
		}
	}
	return out, nil
}

// notifications

func (m *memStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.nextID()
	n.CreatedAt = m.tick()
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *memStore) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Notification{}
	for _, n := range m.notifications {
		if n.UserID == userID && (!unreadOnly || !n.IsRead) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CountUnreadNotifications(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c int64
	for _, n := range m.notifications {
		if n.UserID == userID && !n.IsRead {
			c++
		}
	}
	return c, nil
}

func (m *memStore) MarkNotificationRead(ctx context.Context, id, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return store.ErrNotFound
	}
	n.IsRead = true
	return nil
}

func (m *memStore) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c int64
	for _, n := range m.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			c++
		}
	}
	return c, nil
}

func (m *memStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *memStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = eventType
	return nil
}

// fakeLocker grants holds like SET NX
type fakeLocker struct {
	mu       sync.Mutex
	holds    map[int64]string
	released int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{holds: map[int64]string{}}
}

func (l *fakeLocker) AcquireVehicleHold(ctx context.Context, vehicleID int64, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.holds[vehicleID]; held {
		return false, nil
	}
	l.holds[vehicleID] = token
	return true, nil
}

func (l *fakeLocker) ReleaseVehicleHold(ctx context.Context, vehicleID int64, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holds[vehicleID] == token {
		delete(l.holds, vehicleID)
		l.released++
	}
	return nil
}

// fakeCache mirrors the Redis unread hash: counters only change while warm
type fakeCache struct {
	mu     sync.Mutex
	warm   map[int64]map[int64]int64
	misses int
}

func newFakeCache() *fakeCache {
	return &fakeCache{warm: map[int64]map[int64]int64{}}
}

func (c *fakeCache) GetUnreadCounts(ctx context.Context, userID int64) (map[int64]int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts, ok := c.warm[userID]
	if !ok {
		c.misses++
		return nil, false, nil
	}
	cp := make(map[int64]int64, len(counts))
	for k, v := range counts {
		cp[k] = v
	}
	return cp, true, nil
}

func (c *fakeCache) SetUnreadCounts(ctx context.Context, userID int64, counts map[int64]int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[int64]int64, len(counts))
	for k, v := range counts {
		cp[k] = v
	}
	c.warm[userID] = cp
	return nil
}

func (c *fakeCache) IncrUnread(ctx context.Context, userID, conversationID, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if counts, ok := c.warm[userID]; ok {
		counts[conversationID] += delta
	}
	return nil
}

func (c *fakeCache) ResetUnread(ctx context.Context, userID, conversationID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if counts, ok := c.warm[userID]; ok {
		counts[conversationID] = 0
	}
	return nil
}

// fakeEvents records published booking events
type fakeEvents struct {
	mu      sync.Mutex
	created []*models.BookingCreatedEvent
	status  []*models.BookingStatusChangedEvent
	invoice []*models.InvoiceIssuedEvent
	payment []*models.PaymentReceivedEvent
}

func (e *fakeEvents) PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, event)
	return nil
}

func (e *fakeEvents) PublishBookingStatusChanged(ctx context.Context, event *models.BookingStatusChangedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = append(e.status, event)
	return nil
}

func (e *fakeEvents) PublishInvoiceIssued(ctx context.Context, event *models.InvoiceIssuedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invoice = append(e.invoice, event)
	return nil
}

func (e *fakeEvents) PublishPaymentReceived(ctx context.Context, event *models.PaymentReceivedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payment = append(e.payment, event)
	return nil
}

type published struct {
	channel string
	event   string
	data    interface{}
}

// fakeRealtime records realtime publishes
type fakeRealtime struct {
	mu   sync.Mutex
	sent []published
}

func (r *fakeRealtime) Publish(ctx context.Context, channel, event string, data interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, published{channel: channel, event: event, data: data})
	return nil
}

func (r *fakeRealtime) on(channel, event string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, p := range r.sent {
		if p.channel == channel && p.event == event {
			out = append(out, p)
		}
	}
	return out
}
