// Package service реализует бизнес-логику сервиса trash2treasure.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/trash2treasure/trash2treasure/internal/model"
	"github.com/trash2treasure/trash2treasure/internal/repository"
)

// ErrInvalidCredentials возвращается при неверном email или пароле.
// Намеренно не различает несуществующий email и неверный пароль.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidWeight возвращается для неположительного веса сырья.
	ErrInvalidWeight = errors.New("invalid weight")
	// ErrInvalidDateFormat возвращается для нераспознанной даты вывоза.
	ErrInvalidDateFormat = errors.New("invalid date format")
	// ErrNotAuthorized возвращается при попытке изменить чужую заявку.
	ErrNotAuthorized = errors.New("not authorized for this pickup request")
	// ErrNotHousehold возвращается при запросе статистики не от домохозяйства.
	ErrNotHousehold = errors.New("not a household user")
)

const (
	// Формат даты в форме планирования вывоза.
	scheduledDateLayout = "2006-01-02T15:04"

	dashboardWasteLimit  = 5
	dashboardPickupLimit = 3

	pbkdf2Iterations = 600000
	pbkdf2SaltSize   = 16
	pbkdf2KeySize    = 32
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateUserProfile(ctx context.Context, userID string, p model.ProfileUpdate) error
	ListCompanies(ctx context.Context) ([]model.User, error)
	CreateWasteItemWithReward(ctx context.Context, item *model.WasteItem, reward *model.Reward) error
	ListRecentWasteItems(ctx context.Context, userID string, limit int) ([]model.WasteItem, error)
	ListWasteItemsByStatus(ctx context.Context, userID string, status model.WasteStatus) ([]model.WasteItem, error)
	CreatePickupWithSchedule(ctx context.Context, p *model.PickupRequest) error
	GetPickup(ctx context.Context, id string) (*model.PickupRequest, error)
	ListPickupsByRequester(ctx context.Context, userID string) ([]model.PickupRequest, error)
	ListPickupsByCompany(ctx context.Context, companyID string) ([]model.PickupRequest, error)
	ListUpcomingPickups(ctx context.Context, userID string, limit int) ([]model.PickupRequest, error)
	ListPendingPickupsForCompany(ctx context.Context, companyID string) ([]model.PickupRequest, error)
	ListConfirmedPickupsForCompany(ctx context.Context, companyID string) ([]model.PickupRequest, error)
	UpdatePickupStatus(ctx context.Context, pickupID string, next model.PickupStatus, wasteStatus *model.WasteStatus) error
	UserStats(ctx context.Context, userID string) (*model.Stats, error)
	ListRewardsByUser(ctx context.Context, userID string) ([]model.Reward, error)
}

// Service содержит бизнес-логику сервиса trash2treasure.
type Service struct {
	repo Repository
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterInput содержит данные формы регистрации.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
	Role     string
	Address  string
	Phone    string
}

// Register регистрирует нового пользователя и возвращает его идентификатор.
func (s *Service) Register(ctx context.Context, in RegisterInput) (string, error) {
	role, err := model.ParseRole(in.Role)
	if err != nil {
		return "", fmt.Errorf("%w: role %q", err, in.Role)
	}

	hashed, err := hashPassword(in.Password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		Email:        in.Email,
		PasswordHash: hashed,
		Name:         in.Name,
		Role:         role,
		Address:      in.Address,
		Phone:        in.Phone,
	}

	if err := s.repo.CreateUser(ctx, u); err != nil {
		return "", err
	}

	return u.ID, nil
}

// Authenticate проверяет email и пароль и возвращает пользователя.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !verifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// hashPassword хеширует пароль по PBKDF2-SHA256 со случайной солью.
// Формат результата: pbkdf2:sha256:<итерации>$<соль>$<ключ>.
func hashPassword(password string) (string, error) {
	salt := make([]byte, pbkdf2SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeySize, sha256.New)

	return fmt.Sprintf("pbkdf2:sha256:%d$%s$%s",
		pbkdf2Iterations, hex.EncodeToString(salt), hex.EncodeToString(key)), nil
}

func verifyPassword(stored, password string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 3 {
		return false
	}

	var iterations int
	if idx := strings.LastIndexByte(parts[0], ':'); idx >= 0 {
		n, err := strconv.Atoi(parts[0][idx+1:])
		if err != nil {
			return false
		}
		iterations = n
	} else {
		return false
	}

	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(parts[2])
	if err != nil {
		return false
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, len(expected), sha256.New)

	return subtle.ConstantTimeCompare(key, expected) == 1
}

// HouseholdDashboard содержит данные панели домохозяйства.
type HouseholdDashboard struct {
	WasteItems []model.WasteItem
	// TotalPoints — сумма баллов только по показанным предметам,
	// а не по всей истории пользователя.
	TotalPoints     int64
	UpcomingPickups []model.PickupRequest
}

// CompanyDashboard содержит данные панели перерабатывающей компании.
type CompanyDashboard struct {
	PendingPickups   []model.PickupRequest
	ScheduledPickups []model.PickupRequest
}

// Dashboard содержит данные панели пользователя в зависимости от его роли.
type Dashboard struct {
	Role      model.Role
	Household *HouseholdDashboard
	Company   *CompanyDashboard
}

// GetDashboard собирает данные панели для пользователя.
func (s *Service) GetDashboard(ctx context.Context, userID string) (*Dashboard, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if u.Role == model.RoleCompany {
		pending, err := s.repo.ListPendingPickupsForCompany(ctx, userID)
		if err != nil {
			return nil, err
		}
		scheduled, err := s.repo.ListConfirmedPickupsForCompany(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &Dashboard{
			Role: u.Role,
			Company: &CompanyDashboard{
				PendingPickups:   pending,
				ScheduledPickups: scheduled,
			},
		}, nil
	}

	items, err := s.repo.ListRecentWasteItems(ctx, userID, dashboardWasteLimit)
	if err != nil {
		return nil, err
	}

	var totalPoints int64
	for _, item := range items {
		totalPoints += item.PointsEarned
	}

	upcoming, err := s.repo.ListUpcomingPickups(ctx, userID, dashboardPickupLimit)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		Role: u.Role,
		Household: &HouseholdDashboard{
			WasteItems:      items,
			TotalPoints:     totalPoints,
			UpcomingPickups: upcoming,
		},
	}, nil
}

// SubmitWasteInput содержит данные формы сдачи сырья.
type SubmitWasteInput struct {
	WasteType   string
	Material    string
	WeightKg    float64
	ImageURL    string
	Description string
}

// SubmitWaste регистрирует сданное сырьё, начисляет баллы и записывает
// начисление в журнал. Обе записи сохраняются атомарно.
func (s *Service) SubmitWaste(ctx context.Context, userID string, in SubmitWasteInput) (*model.WasteItem, error) {
	if in.WeightKg <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWeight, in.WeightKg)
	}

	points := model.PointsFor(in.WeightKg)

	item := &model.WasteItem{
		UserID:       userID,
		WasteType:    in.WasteType,
		Material:     in.Material,
		WeightKg:     in.WeightKg,
		ImageURL:     in.ImageURL,
		Description:  in.Description,
		Status:       model.WasteStatusPending,
		PointsEarned: points,
	}

	reward := &model.Reward{
		UserID:      userID,
		Points:      points,
		Source:      model.RewardSourceWasteSubmission,
		Description: fmt.Sprintf("%skg of %s recycled", strconv.FormatFloat(in.WeightKg, 'f', -1, 64), in.WasteType),
	}

	if err := s.repo.CreateWasteItemWithReward(ctx, item, reward); err != nil {
		return nil, err
	}

	return item, nil
}

// ScheduleForm содержит варианты выбора для формы планирования вывоза.
type ScheduleForm struct {
	WasteItems []model.WasteItem
	Companies  []model.User
}

// GetScheduleForm возвращает сырьё пользователя в статусе pending и список компаний.
func (s *Service) GetScheduleForm(ctx context.Context, userID string) (*ScheduleForm, error) {
	items, err := s.repo.ListWasteItemsByStatus(ctx, userID, model.WasteStatusPending)
	if err != nil {
		return nil, err
	}

	companies, err := s.repo.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}

	return &ScheduleForm{WasteItems: items, Companies: companies}, nil
}

// SchedulePickupInput содержит данные формы планирования вывоза.
type SchedulePickupInput struct {
	WasteItemID   string
	CompanyID     string
	ScheduledDate string
	Notes         string
}

// SchedulePickup создаёт заявку на вывоз. Адрес заявителя копируется в
// заявку как снимок на момент создания. Заявка и перевод сырья в статус
// scheduled сохраняются атомарно.
func (s *Service) SchedulePickup(ctx context.Context, userID string, in SchedulePickupInput) (*model.PickupRequest, error) {
	scheduledDate, err := time.Parse(scheduledDateLayout, in.ScheduledDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDateFormat, in.ScheduledDate)
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := &model.PickupRequest{
		UserID:        userID,
		CompanyID:     in.CompanyID,
		WasteItemID:   in.WasteItemID,
		ScheduledDate: scheduledDate,
		Status:        model.PickupStatusPending,
		Address:       u.Address,
		Notes:         in.Notes,
	}

	if err := s.repo.CreatePickupWithSchedule(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

// GetPickupRequests возвращает заявки пользователя в зависимости от его роли.
func (s *Service) GetPickupRequests(ctx context.Context, userID string) ([]model.PickupRequest, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if u.Role == model.RoleCompany {
		return s.repo.ListPickupsByCompany(ctx, userID)
	}
	return s.repo.ListPickupsByRequester(ctx, userID)
}

// UpdatePickupStatus переводит заявку в новый статус. Изменять заявку могут
// только её заявитель и компания-исполнитель. Ровно при переходе в completed
// связанная единица сырья переводится в collected; любой другой статус
// её не затрагивает.
func (s *Service) UpdatePickupStatus(ctx context.Context, callerID, pickupID, status string) error {
	next, err := model.ParsePickupStatus(status)
	if err != nil {
		return fmt.Errorf("%w: %q", err, status)
	}

	p, err := s.repo.GetPickup(ctx, pickupID)
	if err != nil {
		return err
	}

	if callerID != p.UserID && callerID != p.CompanyID {
		return ErrNotAuthorized
	}

	var wasteStatus *model.WasteStatus
	if next == model.PickupStatusCompleted {
		collected := model.WasteStatusCollected
		wasteStatus = &collected
	}

	return s.repo.UpdatePickupStatus(ctx, pickupID, next, wasteStatus)
}

// GetCompanies возвращает список перерабатывающих компаний.
func (s *Service) GetCompanies(ctx context.Context) ([]model.User, error) {
	return s.repo.ListCompanies(ctx)
}

// GetUserStats возвращает агрегаты по всей истории сырья домохозяйства.
// В отличие от панели, здесь баллы суммируются по всем записям.
func (s *Service) GetUserStats(ctx context.Context, userID string) (*model.Stats, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if u.Role != model.RoleHousehold {
		return nil, ErrNotHousehold
	}

	return s.repo.UserStats(ctx, userID)
}

// GetProfile возвращает профиль пользователя.
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// UpdateProfile перезаписывает поля профиля пользователя.
func (s *Service) UpdateProfile(ctx context.Context, userID string, p model.ProfileUpdate) error {
	return s.repo.UpdateUserProfile(ctx, userID, p)
}

// GetRewards возвращает журнал начислений пользователя.
func (s *Service) GetRewards(ctx context.Context, userID string) ([]model.Reward, error) {
	return s.repo.ListRewardsByUser(ctx, userID)
}
