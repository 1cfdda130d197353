package services

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
)

// EventNotifier получает уведомления об изменениях расписания события.
// Реализуется websocket-хабом; nil-реализация допустима в тестах.
type EventNotifier interface {
	NotifyEvent(eventID int, messageType string, payload interface{})
}

// Типы сообщений, рассылаемых в комнату события.
const (
	NotifyRoundCreated  = "ROUND_CREATED"
	NotifyRoundUpdated  = "ROUND_UPDATED"
	NotifyRoundDeleted  = "ROUND_DELETED"
	NotifyMatchCreated  = "MATCH_CREATED"
	NotifyMatchUpdated  = "MATCH_UPDATED"
	NotifyMatchDeleted  = "MATCH_DELETED"
	NotifyRoundReminder = "ROUND_REMINDER"
)

func notify(n EventNotifier, eventID int, messageType string, payload interface{}) {
	if n == nil {
		return
	}
	n.NotifyEvent(eventID, messageType, payload)
}

// runInTx выполняет fn внутри транзакции; при ошибке откатывает.
func runInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// KeyedLock сериализует check-then-write последовательности по узкому ключу
// (тур или событие), не блокируя несвязанные туры. Мьютексы не освобождаются:
// ключей столько, сколько туров трогал процесс, это единицы.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyedLock) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if m, ok := k.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	k.locks[key] = m
	return m
}

func (k *KeyedLock) Lock(key string) func() {
	m := k.get(key)
	m.Lock()
	return m.Unlock
}

func roundKey(roundID int) string { return "round:" + strconv.Itoa(roundID) }
func eventKey(eventID int) string { return "event:" + strconv.Itoa(eventID) }
