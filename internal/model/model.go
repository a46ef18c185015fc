// Package model содержит доменные сущности сервиса trash2treasure.
package model

import (
	"errors"
	"time"
)

// PointsPerKg — фиксированная ставка начисления баллов за килограмм сырья.
const PointsPerKg = 10

// ErrInvalidStatus возвращается при разборе неизвестного значения статуса или роли.
var (
	ErrInvalidStatus = errors.New("invalid status value")
	// ErrInvalidTransition возвращается при попытке недопустимого перехода статуса.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Role определяет роль пользователя в системе.
type Role string

const (
	RoleHousehold Role = "household"
	RoleCompany   Role = "company"
)

// ParseRole разбирает строковое значение роли пользователя.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleHousehold, RoleCompany:
		return Role(s), nil
	}
	return "", ErrInvalidStatus
}

// User представляет домохозяйство или перерабатывающую компанию.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         Role
	Address      string
	City         string
	State        string
	ZipCode      string
	Phone        string
	CreatedAt    time.Time
}

// ProfileUpdate содержит поля профиля, перезаписываемые при обновлении.
type ProfileUpdate struct {
	Name    string
	Address string
	City    string
	State   string
	ZipCode string
	Phone   string
}

// WasteStatus описывает статус обработки сданного сырья.
type WasteStatus string

const (
	WasteStatusPending   WasteStatus = "pending"
	WasteStatusScheduled WasteStatus = "scheduled"
	WasteStatusCollected WasteStatus = "collected"
	WasteStatusProcessed WasteStatus = "processed"
)

var wasteTransitions = map[WasteStatus][]WasteStatus{
	WasteStatusPending:   {WasteStatusScheduled},
	WasteStatusScheduled: {WasteStatusCollected},
	WasteStatusCollected: {WasteStatusProcessed},
}

// CanTransitionTo сообщает, допустим ли переход статуса сырья в next.
func (s WasteStatus) CanTransitionTo(next WasteStatus) bool {
	for _, allowed := range wasteTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// WasteItem описывает единицу сданного на переработку сырья.
type WasteItem struct {
	ID              string
	UserID          string
	WasteType       string
	Material        string
	WeightKg        float64
	ImageURL        string
	Description     string
	Status          WasteStatus
	PointsEarned    int64
	CreatedAt       time.Time
	ScheduledPickup *time.Time
}

// PointsFor вычисляет баллы за указанный вес сырья.
// Дробная часть отбрасывается: 2.57 кг дают 25 баллов.
func PointsFor(weightKg float64) int64 {
	return int64(weightKg * PointsPerKg)
}

// PickupStatus описывает статус заявки на вывоз.
type PickupStatus string

const (
	PickupStatusPending   PickupStatus = "pending"
	PickupStatusConfirmed PickupStatus = "confirmed"
	PickupStatusEnRoute   PickupStatus = "en_route"
	PickupStatusCompleted PickupStatus = "completed"
	PickupStatusCancelled PickupStatus = "cancelled"
)

// ParsePickupStatus разбирает строковое значение статуса заявки.
func ParsePickupStatus(s string) (PickupStatus, error) {
	switch PickupStatus(s) {
	case PickupStatusPending, PickupStatusConfirmed, PickupStatusEnRoute,
		PickupStatusCompleted, PickupStatusCancelled:
		return PickupStatus(s), nil
	}
	return "", ErrInvalidStatus
}

// Отмена допустима из любого нетерминального статуса.
var pickupTransitions = map[PickupStatus][]PickupStatus{
	PickupStatusPending:   {PickupStatusConfirmed, PickupStatusCancelled},
	PickupStatusConfirmed: {PickupStatusEnRoute, PickupStatusCompleted, PickupStatusCancelled},
	PickupStatusEnRoute:   {PickupStatusCompleted, PickupStatusCancelled},
}

// CanTransitionTo сообщает, допустим ли переход статуса заявки в next.
func (s PickupStatus) CanTransitionTo(next PickupStatus) bool {
	for _, allowed := range pickupTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PickupRequest описывает договорённость о вывозе одной единицы сырья.
type PickupRequest struct {
	ID            string
	UserID        string
	CompanyID     string
	WasteItemID   string
	ScheduledDate time.Time
	Status        PickupStatus
	// Address — снимок адреса заявителя на момент создания заявки.
	Address   string
	Notes     string
	CreatedAt time.Time
}

// RewardSource описывает источник начисления баллов.
type RewardSource string

const (
	RewardSourceWasteSubmission RewardSource = "waste_submission"
	RewardSourceReferral        RewardSource = "referral"
	RewardSourceBonus           RewardSource = "bonus"
)

// Reward — запись журнала начислений. Записи не изменяются и не удаляются.
type Reward struct {
	ID          string
	UserID      string
	Points      int64
	Source      RewardSource
	Description string
	CreatedAt   time.Time
}

// Stats содержит агрегаты по всей истории сданного пользователем сырья.
type Stats struct {
	TotalWaste    float64 `json:"total_waste"`
	TotalPoints   int64   `json:"total_points"`
	ItemsRecycled int64   `json:"items_recycled"`
}
