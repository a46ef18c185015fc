// Package handler содержит HTTP-обработчики API сервиса trash2treasure.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trash2treasure/trash2treasure/internal/middleware"
	"github.com/trash2treasure/trash2treasure/internal/model"
	"github.com/trash2treasure/trash2treasure/internal/repository"
	"github.com/trash2treasure/trash2treasure/internal/service"
	"github.com/trash2treasure/trash2treasure/internal/upload"
)

// Максимальный размер тела запроса с изображением.
const maxUploadSize = 16 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Register(ctx context.Context, in service.RegisterInput) (string, error)
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
	GetDashboard(ctx context.Context, userID string) (*service.Dashboard, error)
	SubmitWaste(ctx context.Context, userID string, in service.SubmitWasteInput) (*model.WasteItem, error)
	GetScheduleForm(ctx context.Context, userID string) (*service.ScheduleForm, error)
	SchedulePickup(ctx context.Context, userID string, in service.SchedulePickupInput) (*model.PickupRequest, error)
	GetPickupRequests(ctx context.Context, userID string) ([]model.PickupRequest, error)
	UpdatePickupStatus(ctx context.Context, callerID, pickupID, status string) error
	GetCompanies(ctx context.Context) ([]model.User, error)
	GetUserStats(ctx context.Context, userID string) (*model.Stats, error)
	GetProfile(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, p model.ProfileUpdate) error
	GetRewards(ctx context.Context, userID string) ([]model.Reward, error)
}

// Handler реализует HTTP-обработчики API сервиса trash2treasure.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	uploads        *upload.Store
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, uploads *upload.Store) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		uploads:        uploads,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

// Index возвращает краткую информацию о сервисе.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"service": "trash2treasure"})
}

// RegisterForm отвечает на GET /register. Форма рендерится на стороне клиента.
func (h *Handler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// LoginForm отвечает на GET /login. Форма рендерится на стороне клиента.
func (h *Handler) LoginForm(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	in := service.RegisterInput{
		Email:    r.FormValue("email"),
		Name:     r.FormValue("name"),
		Password: r.FormValue("password"),
		Role:     r.FormValue("user_type"),
		Address:  r.FormValue("address"),
		Phone:    r.FormValue("phone"),
	}

	if in.Email == "" || in.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	_, err := h.service.Register(r.Context(), in)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			http.Error(w, "Email already exists", http.StatusConflict)
			return
		}
		if errors.Is(err, model.ErrInvalidStatus) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Registration successful! Please login."})
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	password := r.FormValue("password")

	if email == "" || password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.Authenticate(r.Context(), email, password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, "Invalid email or password", http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	w.WriteHeader(http.StatusOK)
}

// Logout завершает сессию пользователя.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

type wasteItemResponse struct {
	ID              string  `json:"id"`
	WasteType       string  `json:"waste_type"`
	Material        string  `json:"material,omitempty"`
	WeightKg        float64 `json:"weight_kg"`
	ImageURL        string  `json:"image_url,omitempty"`
	Description     string  `json:"description,omitempty"`
	Status          string  `json:"status"`
	PointsEarned    int64   `json:"points_earned"`
	CreatedAt       string  `json:"created_at"`
	ScheduledPickup string  `json:"scheduled_pickup,omitempty"`
}

func toWasteItemResponse(item model.WasteItem) wasteItemResponse {
	resp := wasteItemResponse{
		ID:           item.ID,
		WasteType:    item.WasteType,
		Material:     item.Material,
		WeightKg:     item.WeightKg,
		ImageURL:     item.ImageURL,
		Description:  item.Description,
		Status:       string(item.Status),
		PointsEarned: item.PointsEarned,
		CreatedAt:    item.CreatedAt.Format(time.RFC3339),
	}
	if item.ScheduledPickup != nil {
		resp.ScheduledPickup = item.ScheduledPickup.Format(time.RFC3339)
	}
	return resp
}

type pickupResponse struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	CompanyID     string `json:"company_id"`
	WasteItemID   string `json:"waste_item_id"`
	ScheduledDate string `json:"scheduled_date"`
	Status        string `json:"status"`
	Address       string `json:"address,omitempty"`
	Notes         string `json:"notes,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toPickupResponses(pickups []model.PickupRequest) []pickupResponse {
	resp := make([]pickupResponse, 0, len(pickups))
	for _, p := range pickups {
		resp = append(resp, pickupResponse{
			ID:            p.ID,
			UserID:        p.UserID,
			CompanyID:     p.CompanyID,
			WasteItemID:   p.WasteItemID,
			ScheduledDate: p.ScheduledDate.Format(time.RFC3339),
			Status:        string(p.Status),
			Address:       p.Address,
			Notes:         p.Notes,
			CreatedAt:     p.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

type dashboardResponse struct {
	Role string `json:"role"`

	// Поля панели домохозяйства.
	WasteItems      []wasteItemResponse `json:"waste_items,omitempty"`
	TotalPoints     *int64              `json:"total_points,omitempty"`
	UpcomingPickups []pickupResponse    `json:"upcoming_pickups,omitempty"`

	// Поля панели компании.
	PendingPickups   []pickupResponse `json:"pending_pickups,omitempty"`
	ScheduledPickups []pickupResponse `json:"scheduled_pickups,omitempty"`
}

// Dashboard возвращает данные панели текущего пользователя.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	d, err := h.service.GetDashboard(r.Context(), userID)
	if err != nil {
		h.logger.Error("get dashboard error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := dashboardResponse{Role: string(d.Role)}
	switch {
	case d.Household != nil:
		items := make([]wasteItemResponse, 0, len(d.Household.WasteItems))
		for _, item := range d.Household.WasteItems {
			items = append(items, toWasteItemResponse(item))
		}
		resp.WasteItems = items
		resp.TotalPoints = &d.Household.TotalPoints
		resp.UpcomingPickups = toPickupResponses(d.Household.UpcomingPickups)
	case d.Company != nil:
		resp.PendingPickups = toPickupResponses(d.Company.PendingPickups)
		resp.ScheduledPickups = toPickupResponses(d.Company.ScheduledPickups)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ScanForm отвечает на GET /scan. Форма рендерится на стороне клиента.
func (h *Handler) ScanForm(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

type submitWasteResponse struct {
	Message string            `json:"message"`
	Item    wasteItemResponse `json:"item"`
}

// SubmitWaste принимает сданное сырьё с необязательным изображением.
func (h *Handler) SubmitWaste(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	weight, err := strconv.ParseFloat(r.FormValue("weight"), 64)
	if err != nil {
		http.Error(w, "Invalid weight", http.StatusBadRequest)
		return
	}

	imageURL := ""
	file, header, err := r.FormFile("waste_image")
	if err == nil {
		defer file.Close()

		stored, saveErr := h.uploads.Save(header.Filename, file)
		switch {
		case errors.Is(saveErr, upload.ErrDisallowedExtension):
			// Файл с неразрешённым расширением молча пропускается,
			// запись о сырье создаётся без изображения.
		case saveErr != nil:
			h.logger.Error("save waste image", zap.Error(saveErr), zap.String("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		default:
			imageURL = "/static/uploads/" + stored
		}
	}

	item, err := h.service.SubmitWaste(r.Context(), userID, service.SubmitWasteInput{
		WasteType:   r.FormValue("waste_type"),
		Material:    r.FormValue("material"),
		WeightKg:    weight,
		ImageURL:    imageURL,
		Description: r.FormValue("description"),
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidWeight) {
			http.Error(w, "Invalid weight", http.StatusBadRequest)
			return
		}
		h.logger.Error("submit waste error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, submitWasteResponse{
		Message: fmt.Sprintf("Waste item uploaded successfully! Points earned: %d", item.PointsEarned),
		Item:    toWasteItemResponse(*item),
	})
}

type companyResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

func toCompanyResponses(companies []model.User) []companyResponse {
	resp := make([]companyResponse, 0, len(companies))
	for _, c := range companies {
		resp = append(resp, companyResponse{
			ID:      c.ID,
			Name:    c.Name,
			Address: c.Address,
			Phone:   c.Phone,
		})
	}
	return resp
}

type scheduleFormResponse struct {
	WasteItems []wasteItemResponse `json:"waste_items"`
	Companies  []companyResponse   `json:"companies"`
}

// ScheduleForm возвращает варианты выбора для формы планирования вывоза.
func (h *Handler) ScheduleForm(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	form, err := h.service.GetScheduleForm(r.Context(), userID)
	if err != nil {
		h.logger.Error("get schedule form error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	items := make([]wasteItemResponse, 0, len(form.WasteItems))
	for _, item := range form.WasteItems {
		items = append(items, toWasteItemResponse(item))
	}

	h.writeJSON(w, http.StatusOK, scheduleFormResponse{
		WasteItems: items,
		Companies:  toCompanyResponses(form.Companies),
	})
}

// SchedulePickup создаёт заявку на вывоз сырья.
func (h *Handler) SchedulePickup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	in := service.SchedulePickupInput{
		WasteItemID:   r.FormValue("waste_item_id"),
		CompanyID:     r.FormValue("company_id"),
		ScheduledDate: r.FormValue("scheduled_date"),
		Notes:         r.FormValue("notes"),
	}

	p, err := h.service.SchedulePickup(r.Context(), userID, in)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidDateFormat):
			http.Error(w, "Invalid date format", http.StatusBadRequest)
		case errors.Is(err, repository.ErrWasteItemNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, model.ErrInvalidTransition):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("schedule pickup error", zap.Error(err), zap.String("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toPickupResponses([]model.PickupRequest{*p})[0])
}

// PickupRequests возвращает заявки текущего пользователя.
func (h *Handler) PickupRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	pickups, err := h.service.GetPickupRequests(r.Context(), userID)
	if err != nil {
		h.logger.Error("get pickup requests error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toPickupResponses(pickups))
}

// UpdatePickupStatus переводит заявку в новый статус.
func (h *Handler) UpdatePickupStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	pickupID := chi.URLParam(r, "id")
	status := r.FormValue("status")

	err := h.service.UpdatePickupStatus(r.Context(), userID, pickupID, status)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPickupNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, model.ErrInvalidStatus):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, model.ErrInvalidTransition):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrNotAuthorized):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		default:
			h.logger.Error("update pickup status error", zap.Error(err),
				zap.String("userID", userID), zap.String("pickupID", pickupID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Pickup status updated!"})
}

// Companies возвращает список перерабатывающих компаний.
func (h *Handler) Companies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.service.GetCompanies(r.Context())
	if err != nil {
		h.logger.Error("get companies error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toCompanyResponses(companies))
}

// UserStats возвращает агрегаты по всей истории сырья домохозяйства.
func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	stats, err := h.service.GetUserStats(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNotHousehold) {
			h.writeJSON(w, http.StatusOK, map[string]string{"error": "Not a household user"})
			return
		}
		h.logger.Error("get user stats error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

type profileResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Phone   string `json:"phone"`
}

// Profile возвращает профиль текущего пользователя.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		h.logger.Error("get profile error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, profileResponse{
		ID:      u.ID,
		Email:   u.Email,
		Name:    u.Name,
		Role:    string(u.Role),
		Address: u.Address,
		City:    u.City,
		State:   u.State,
		ZipCode: u.ZipCode,
		Phone:   u.Phone,
	})
}

// UpdateProfile перезаписывает поля профиля текущего пользователя.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	err := h.service.UpdateProfile(r.Context(), userID, model.ProfileUpdate{
		Name:    r.FormValue("name"),
		Address: r.FormValue("address"),
		City:    r.FormValue("city"),
		State:   r.FormValue("state"),
		ZipCode: r.FormValue("zip_code"),
		Phone:   r.FormValue("phone"),
	})
	if err != nil {
		h.logger.Error("update profile error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Profile updated successfully!"})
}

type rewardResponse struct {
	ID          string `json:"id"`
	Points      int64  `json:"points"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Rewards возвращает журнал начислений текущего пользователя.
func (h *Handler) Rewards(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	rewards, err := h.service.GetRewards(r.Context(), userID)
	if err != nil {
		h.logger.Error("get rewards error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]rewardResponse, 0, len(rewards))
	for _, rw := range rewards {
		resp = append(resp, rewardResponse{
			ID:          rw.ID,
			Points:      rw.Points,
			Source:      string(rw.Source),
			Description: rw.Description,
			CreatedAt:   rw.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}
