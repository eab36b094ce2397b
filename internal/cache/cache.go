package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"fleetguard/internal/model"
	"fleetguard/internal/storage"
)

const positionCacheSize = 16384

type Cache struct {
	store storage.Store

	mu            sync.Mutex
	devices       map[int64]*model.Device
	users         map[int64]*model.User
	geofences     map[int64]*model.Geofence
	calendars     map[int64]*model.Calendar
	notifications map[int64][]model.Notification

	positions *lru.Cache[int64, *model.Position]
}

func New(store storage.Store) *Cache {
	positions, _ := lru.New[int64, *model.Position](positionCacheSize)
	return &Cache{
		store:         store,
		devices:       make(map[int64]*model.Device),
		users:         make(map[int64]*model.User),
		geofences:     make(map[int64]*model.Geofence),
		calendars:     make(map[int64]*model.Calendar),
		notifications: make(map[int64][]model.Notification),
		positions:     positions,
	}
}

func (c *Cache) Warm(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	devices, err := c.store.ListDevices(ctx)
	if err != nil {
		return err
	}
	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	geofences, err := c.store.ListGeofences(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range devices {
		device := devices[i]
		c.devices[device.ID] = &device
	}
	for i := range users {
		user := users[i]
		c.users[user.ID] = &user
	}
	for i := range geofences {
		geofence := geofences[i]
		c.geofences[geofence.ID] = &geofence
	}
	return nil
}

func (c *Cache) Device(ctx context.Context, id int64) (*model.Device, error) {
	c.mu.Lock()
	if device, ok := c.devices[id]; ok {
		c.mu.Unlock()
		return device, nil
	}
	c.mu.Unlock()
	if c.store == nil {
		return nil, storage.ErrNotFound
	}
	device, err := c.store.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.devices[id] = device
	c.mu.Unlock()
	return device, nil
}

func (c *Cache) PutDevice(device *model.Device) {
	if device == nil {
		return
	}
	c.mu.Lock()
	c.devices[device.ID] = device
	c.mu.Unlock()
}

func (c *Cache) InvalidateDevice(id int64) {
	c.mu.Lock()
	delete(c.devices, id)
	c.mu.Unlock()
}

func (c *Cache) DeviceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices)
}

func (c *Cache) UpdateDeviceOverspeed(ctx context.Context, id int64, state bool, at time.Time, geofenceID int64) error {
	c.mu.Lock()
	if device, ok := c.devices[id]; ok {
		clone := *device
		clone.OverspeedState = state
		clone.OverspeedTime = at
		clone.OverspeedGeofenceID = geofenceID
		c.devices[id] = &clone
	}
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}
	return c.store.UpdateDeviceOverspeed(ctx, id, state, at, geofenceID)
}

func (c *Cache) UpdateDeviceFields(ctx context.Context, id int64, name, category string) error {
	if c.store != nil {
		if err := c.store.UpdateDeviceFields(ctx, id, name, category); err != nil {
			return err
		}
	}
	c.mu.Lock()
	device, ok := c.devices[id]
	if ok {
		clone := *device
		clone.Name = name
		clone.Category = category
		c.devices[id] = &clone
	}
	c.mu.Unlock()
	if !ok && c.store == nil {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Cache) User(ctx context.Context, id int64) (*model.User, error) {
	c.mu.Lock()
	if user, ok := c.users[id]; ok {
		c.mu.Unlock()
		return user, nil
	}
	c.mu.Unlock()
	if c.store == nil {
		return nil, storage.ErrNotFound
	}
	user, err := c.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.users[id] = user
	c.mu.Unlock()
	return user, nil
}

func (c *Cache) PutUser(user *model.User) {
	if user == nil {
		return
	}
	c.mu.Lock()
	c.users[user.ID] = user
	c.mu.Unlock()
}

func (c *Cache) InvalidateUser(id int64) {
	c.mu.Lock()
	delete(c.users, id)
	c.mu.Unlock()
}

func (c *Cache) Geofence(ctx context.Context, id int64) (*model.Geofence, error) {
	c.mu.Lock()
	if geofence, ok := c.geofences[id]; ok {
		c.mu.Unlock()
		return geofence, nil
	}
	c.mu.Unlock()
	if c.store == nil {
		return nil, storage.ErrNotFound
	}
	geofence, err := c.store.GetGeofence(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.geofences[id] = geofence
	c.mu.Unlock()
	return geofence, nil
}

func (c *Cache) PutGeofence(geofence *model.Geofence) {
	if geofence == nil {
		return
	}
	c.mu.Lock()
	c.geofences[geofence.ID] = geofence
	c.mu.Unlock()
}

func (c *Cache) Calendar(ctx context.Context, id int64) (*model.Calendar, error) {
	c.mu.Lock()
	if calendar, ok := c.calendars[id]; ok {
		c.mu.Unlock()
		return calendar, nil
	}
	c.mu.Unlock()
	if c.store == nil {
		return nil, storage.ErrNotFound
	}
	calendar, err := c.store.GetCalendar(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.calendars[id] = calendar
	c.mu.Unlock()
	return calendar, nil
}

func (c *Cache) PutCalendar(calendar *model.Calendar) {
	if calendar == nil {
		return
	}
	c.mu.Lock()
	c.calendars[calendar.ID] = calendar
	c.mu.Unlock()
}

func (c *Cache) DeviceNotifications(ctx context.Context, deviceID int64) ([]model.Notification, error) {
	c.mu.Lock()
	if list, ok := c.notifications[deviceID]; ok {
		c.mu.Unlock()
		return list, nil
	}
	c.mu.Unlock()
	if c.store == nil {
		return nil, nil
	}
	list, err := c.store.DeviceNotifications(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.notifications[deviceID] = list
	c.mu.Unlock()
	return list, nil
}

func (c *Cache) InvalidateNotifications() {
	c.mu.Lock()
	c.notifications = make(map[int64][]model.Notification)
	c.mu.Unlock()
}

func (c *Cache) LastPosition(ctx context.Context, deviceID int64) (*model.Position, error) {
	if position, ok := c.positions.Get(deviceID); ok {
		return position, nil
	}
	if c.store == nil {
		return nil, nil
	}
	position, err := c.store.LatestPosition(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.positions.Add(deviceID, position)
	return position, nil
}

func (c *Cache) SetLastPosition(position *model.Position) {
	if position == nil {
		return
	}
	c.positions.Add(position.DeviceID, position)
}
