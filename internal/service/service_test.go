package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trash2treasure/trash2treasure/internal/model"
	"github.com/trash2treasure/trash2treasure/internal/repository"
)

type stubRepo struct {
	createUserErr error
	createdUser   *model.User

	userByEmail    *model.User
	userByEmailErr error

	userByID    *model.User
	userByIDErr error

	profileUpdate *model.ProfileUpdate

	companies    []model.User
	companiesErr error

	submittedItem   *model.WasteItem
	submittedReward *model.Reward
	submitErr       error

	recentItems []model.WasteItem
	statusItems []model.WasteItem

	createdPickup   *model.PickupRequest
	createPickupErr error

	pickup    *model.PickupRequest
	pickupErr error

	requesterPickups []model.PickupRequest
	companyPickups   []model.PickupRequest
	upcomingPickups  []model.PickupRequest
	pendingPickups   []model.PickupRequest
	confirmedPickups []model.PickupRequest

	updatedPickupID     string
	updatedPickupStatus model.PickupStatus
	updatedWasteStatus  *model.WasteStatus
	updateStatusErr     error

	stats    *model.Stats
	statsErr error

	rewards []model.Reward
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, u *model.User) error {
	if s.createUserErr != nil {
		return s.createUserErr
	}
	u.ID = "user-id"
	s.createdUser = u
	return nil
}

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.userByEmail, s.userByEmailErr
}

func (s *stubRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.userByID, s.userByIDErr
}

func (s *stubRepo) UpdateUserProfile(ctx context.Context, userID string, p model.ProfileUpdate) error {
	s.profileUpdate = &p
	return nil
}

func (s *stubRepo) ListCompanies(ctx context.Context) ([]model.User, error) {
	return s.companies, s.companiesErr
}

func (s *stubRepo) CreateWasteItemWithReward(ctx context.Context, item *model.WasteItem, reward *model.Reward) error {
	if s.submitErr != nil {
		return s.submitErr
	}
	item.ID = "item-id"
	item.CreatedAt = time.Now()
	reward.ID = "reward-id"
	reward.CreatedAt = item.CreatedAt
	s.submittedItem = item
	s.submittedReward = reward
	return nil
}

func (s *stubRepo) ListRecentWasteItems(ctx context.Context, userID string, limit int) ([]model.WasteItem, error) {
	if len(s.recentItems) > limit {
		return s.recentItems[:limit], nil
	}
	return s.recentItems, nil
}

func (s *stubRepo) ListWasteItemsByStatus(ctx context.Context, userID string, status model.WasteStatus) ([]model.WasteItem, error) {
	return s.statusItems, nil
}

func (s *stubRepo) CreatePickupWithSchedule(ctx context.Context, p *model.PickupRequest) error {
	if s.createPickupErr != nil {
		return s.createPickupErr
	}
	p.ID = "pickup-id"
	p.CreatedAt = time.Now()
	s.createdPickup = p
	return nil
}

func (s *stubRepo) GetPickup(ctx context.Context, id string) (*model.PickupRequest, error) {
	return s.pickup, s.pickupErr
}

func (s *stubRepo) ListPickupsByRequester(ctx context.Context, userID string) ([]model.PickupRequest, error) {
	return s.requesterPickups, nil
}

func (s *stubRepo) ListPickupsByCompany(ctx context.Context, companyID string) ([]model.PickupRequest, error) {
	return s.companyPickups, nil
}

func (s *stubRepo) ListUpcomingPickups(ctx context.Context, userID string, limit int) ([]model.PickupRequest, error) {
	return s.upcomingPickups, nil
}

func (s *stubRepo) ListPendingPickupsForCompany(ctx context.Context, companyID string) ([]model.PickupRequest, error) {
	return s.pendingPickups, nil
}

func (s *stubRepo) ListConfirmedPickupsForCompany(ctx context.Context, companyID string) ([]model.PickupRequest, error) {
	return s.confirmedPickups, nil
}

func (s *stubRepo) UpdatePickupStatus(ctx context.Context, pickupID string, next model.PickupStatus, wasteStatus *model.WasteStatus) error {
	if s.updateStatusErr != nil {
		return s.updateStatusErr
	}
	s.updatedPickupID = pickupID
	s.updatedPickupStatus = next
	s.updatedWasteStatus = wasteStatus
	return nil
}

func (s *stubRepo) UserStats(ctx context.Context, userID string) (*model.Stats, error) {
	return s.stats, s.statsErr
}

func (s *stubRepo) ListRewardsByUser(ctx context.Context, userID string) ([]model.Reward, error) {
	return s.rewards, nil
}

func TestHashPassword_VerifyRoundTrip(t *testing.T) {
	a, err := hashPassword("p1")
	if err != nil {
		t.Fatalf("hashPassword error: %v", err)
	}
	b, err := hashPassword("p1")
	if err != nil {
		t.Fatalf("hashPassword error: %v", err)
	}

	// Соль случайная, поэтому хеши различаются, но оба проверяются.
	if a == b {
		t.Fatalf("hashes with random salt must differ")
	}
	if !verifyPassword(a, "p1") || !verifyPassword(b, "p1") {
		t.Fatalf("verifyPassword must accept the original password")
	}
	if verifyPassword(a, "p2") {
		t.Fatalf("verifyPassword must reject a wrong password")
	}
	if verifyPassword("garbage", "p1") {
		t.Fatalf("verifyPassword must reject a malformed hash")
	}
}

func TestRegister_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{createUserErr: repository.ErrEmailExists}
	svc := NewService(repo)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "a@x.com",
		Password: "p1",
		Role:     "household",
	})
	if !errors.Is(err, repository.ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestRegister_RejectsUnknownRole(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "a@x.com",
		Password: "p1",
		Role:     "admin",
	})
	if !errors.Is(err, model.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if repo.createdUser != nil {
		t.Fatalf("no user must be created for unknown role")
	}
}

func TestAuthenticate(t *testing.T) {
	hashed, err := hashPassword("p1")
	if err != nil {
		t.Fatalf("hashPassword error: %v", err)
	}

	repo := &stubRepo{
		userByEmail: &model.User{
			ID:           "user-id",
			Email:        "a@x.com",
			PasswordHash: hashed,
			Role:         model.RoleHousehold,
		},
	}
	svc := NewService(repo)

	u, err := svc.Authenticate(context.Background(), "a@x.com", "p1")
	if err != nil {
		t.Fatalf("Authenticate error: %v", err)
	}
	if u.ID != "user-id" {
		t.Fatalf("user ID = %q, want user-id", u.ID)
	}

	_, err = svc.Authenticate(context.Background(), "a@x.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
}

func TestAuthenticate_UnknownEmailIsGeneric(t *testing.T) {
	repo := &stubRepo{userByEmailErr: repository.ErrUserNotFound}
	svc := NewService(repo)

	_, err := svc.Authenticate(context.Background(), "nobody@x.com", "p1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email must map to ErrInvalidCredentials, got %v", err)
	}
}

func TestSubmitWaste_PointsAndReward(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	item, err := svc.SubmitWaste(context.Background(), "user-id", SubmitWasteInput{
		WasteType: "plastic",
		WeightKg:  2.5,
	})
	if err != nil {
		t.Fatalf("SubmitWaste error: %v", err)
	}

	if item.PointsEarned != 25 {
		t.Fatalf("points = %d, want 25", item.PointsEarned)
	}
	if item.Status != model.WasteStatusPending {
		t.Fatalf("status = %s, want pending", item.Status)
	}

	if repo.submittedReward == nil {
		t.Fatalf("reward must be written together with the waste item")
	}
	if repo.submittedReward.Points != 25 {
		t.Fatalf("reward points = %d, want 25", repo.submittedReward.Points)
	}
	if repo.submittedReward.Source != model.RewardSourceWasteSubmission {
		t.Fatalf("reward source = %s, want waste_submission", repo.submittedReward.Source)
	}
	if repo.submittedReward.Description != "2.5kg of plastic recycled" {
		t.Fatalf("reward description = %q", repo.submittedReward.Description)
	}
}

func TestSubmitWaste_TruncatesFractionalPoints(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	item, err := svc.SubmitWaste(context.Background(), "user-id", SubmitWasteInput{
		WasteType: "glass",
		WeightKg:  1.29,
	})
	if err != nil {
		t.Fatalf("SubmitWaste error: %v", err)
	}
	if item.PointsEarned != 12 {
		t.Fatalf("points = %d, want 12", item.PointsEarned)
	}
}

func TestSubmitWaste_DescriptionWithoutExponent(t *testing.T) {
	// Для больших весов описание пишется в десятичной записи,
	// а не в экспоненциальной.
	repo := &stubRepo{}
	svc := NewService(repo)

	_, err := svc.SubmitWaste(context.Background(), "user-id", SubmitWasteInput{
		WasteType: "metal",
		WeightKg:  1000000.5,
	})
	if err != nil {
		t.Fatalf("SubmitWaste error: %v", err)
	}
	if repo.submittedReward.Description != "1000000.5kg of metal recycled" {
		t.Fatalf("reward description = %q", repo.submittedReward.Description)
	}
}

func TestSubmitWaste_InvalidWeight(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	for _, w := range []float64{0, -2.5} {
		_, err := svc.SubmitWaste(context.Background(), "user-id", SubmitWasteInput{
			WasteType: "plastic",
			WeightKg:  w,
		})
		if !errors.Is(err, ErrInvalidWeight) {
			t.Fatalf("weight %v: expected ErrInvalidWeight, got %v", w, err)
		}
	}

	if repo.submittedItem != nil {
		t.Fatalf("no waste item must be written for invalid weight")
	}
}

func TestGetDashboard_HouseholdTotalsOnlyVisibleItems(t *testing.T) {
	// Сумма баллов на панели считается только по показанным предметам,
	// а не по всей истории.
	repo := &stubRepo{
		userByID: &model.User{ID: "user-id", Role: model.RoleHousehold},
		recentItems: []model.WasteItem{
			{PointsEarned: 25}, {PointsEarned: 10}, {PointsEarned: 7},
			{PointsEarned: 3}, {PointsEarned: 5}, {PointsEarned: 100},
		},
		stats: &model.Stats{TotalPoints: 150},
	}
	svc := NewService(repo)

	d, err := svc.GetDashboard(context.Background(), "user-id")
	if err != nil {
		t.Fatalf("GetDashboard error: %v", err)
	}
	if d.Household == nil {
		t.Fatalf("household dashboard expected")
	}
	if len(d.Household.WasteItems) != 5 {
		t.Fatalf("items = %d, want 5", len(d.Household.WasteItems))
	}
	if d.Household.TotalPoints != 50 {
		t.Fatalf("total points = %d, want 50 (sum of 5 most recent items)", d.Household.TotalPoints)
	}
}

func TestGetDashboard_Company(t *testing.T) {
	repo := &stubRepo{
		userByID:         &model.User{ID: "comp-id", Role: model.RoleCompany},
		pendingPickups:   []model.PickupRequest{{ID: "p1"}},
		confirmedPickups: []model.PickupRequest{{ID: "p2"}, {ID: "p3"}},
	}
	svc := NewService(repo)

	d, err := svc.GetDashboard(context.Background(), "comp-id")
	if err != nil {
		t.Fatalf("GetDashboard error: %v", err)
	}
	if d.Company == nil {
		t.Fatalf("company dashboard expected")
	}
	if len(d.Company.PendingPickups) != 1 || len(d.Company.ScheduledPickups) != 2 {
		t.Fatalf("unexpected dashboard: %+v", d.Company)
	}
}

func TestSchedulePickup_InvalidDateFormat(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: "user-id", Address: "12 Green St"},
	}
	svc := NewService(repo)

	_, err := svc.SchedulePickup(context.Background(), "user-id", SchedulePickupInput{
		WasteItemID:   "item-id",
		CompanyID:     "comp-id",
		ScheduledDate: "31-12-2026 10:00",
	})
	if !errors.Is(err, ErrInvalidDateFormat) {
		t.Fatalf("expected ErrInvalidDateFormat, got %v", err)
	}
	if repo.createdPickup != nil {
		t.Fatalf("no pickup must be created for invalid date")
	}
}

func TestSchedulePickup_SnapshotsRequesterAddress(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: "user-id", Address: "12 Green St"},
	}
	svc := NewService(repo)

	p, err := svc.SchedulePickup(context.Background(), "user-id", SchedulePickupInput{
		WasteItemID:   "item-id",
		CompanyID:     "comp-id",
		ScheduledDate: "2026-12-31T10:00",
		Notes:         "gate code 42",
	})
	if err != nil {
		t.Fatalf("SchedulePickup error: %v", err)
	}

	if p.Address != "12 Green St" {
		t.Fatalf("address = %q, want snapshot of requester address", p.Address)
	}
	if p.Status != model.PickupStatusPending {
		t.Fatalf("status = %s, want pending", p.Status)
	}
	want := time.Date(2026, 12, 31, 10, 0, 0, 0, time.UTC)
	if !p.ScheduledDate.Equal(want) {
		t.Fatalf("scheduled date = %v, want %v", p.ScheduledDate, want)
	}
}

func TestUpdatePickupStatus_UnknownValue(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	err := svc.UpdatePickupStatus(context.Background(), "user-id", "pickup-id", "delivered")
	if !errors.Is(err, model.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestUpdatePickupStatus_Authorization(t *testing.T) {
	pickup := &model.PickupRequest{
		ID:        "pickup-id",
		UserID:    "owner-id",
		CompanyID: "comp-id",
		Status:    model.PickupStatusPending,
	}

	tests := []struct {
		name    string
		caller  string
		wantErr error
	}{
		{"requester may update", "owner-id", nil},
		{"company may update", "comp-id", nil},
		{"stranger may not", "someone-else", ErrNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{pickup: pickup}
			svc := NewService(repo)

			err := svc.UpdatePickupStatus(context.Background(), tt.caller, "pickup-id", "confirmed")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("UpdatePickupStatus error: %v", err)
				}
				if repo.updatedPickupStatus != model.PickupStatusConfirmed {
					t.Fatalf("status = %s, want confirmed", repo.updatedPickupStatus)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if repo.updatedPickupID != "" {
				t.Fatalf("repository must not be called for unauthorized caller")
			}
		})
	}
}

func TestUpdatePickupStatus_CascadesOnlyOnCompleted(t *testing.T) {
	// Ровно статус completed переводит сырьё в collected; все остальные
	// статусы не затрагивают его.
	tests := []struct {
		name        string
		from        model.PickupStatus
		status      string
		wantCascade bool
	}{
		{"confirmed does not touch the item", model.PickupStatusPending, "confirmed", false},
		{"en_route does not touch the item", model.PickupStatusConfirmed, "en_route", false},
		{"cancelled does not touch the item", model.PickupStatusConfirmed, "cancelled", false},
		{"completed collects the item", model.PickupStatusEnRoute, "completed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{
				pickup: &model.PickupRequest{
					ID:          "pickup-id",
					UserID:      "owner-id",
					CompanyID:   "comp-id",
					WasteItemID: "item-id",
					Status:      tt.from,
				},
			}
			svc := NewService(repo)

			if err := svc.UpdatePickupStatus(context.Background(), "comp-id", "pickup-id", tt.status); err != nil {
				t.Fatalf("UpdatePickupStatus error: %v", err)
			}

			if !tt.wantCascade {
				if repo.updatedWasteStatus != nil {
					t.Fatalf("waste item must be untouched for status %q, got %s", tt.status, *repo.updatedWasteStatus)
				}
				return
			}
			if repo.updatedWasteStatus == nil {
				t.Fatalf("completed must cascade to the waste item")
			}
			if *repo.updatedWasteStatus != model.WasteStatusCollected {
				t.Fatalf("waste status = %s, want collected", *repo.updatedWasteStatus)
			}
		})
	}
}

func TestUpdatePickupStatus_NotFound(t *testing.T) {
	repo := &stubRepo{pickupErr: repository.ErrPickupNotFound}
	svc := NewService(repo)

	err := svc.UpdatePickupStatus(context.Background(), "user-id", "missing", "confirmed")
	if !errors.Is(err, repository.ErrPickupNotFound) {
		t.Fatalf("expected ErrPickupNotFound, got %v", err)
	}
}

func TestGetUserStats_NotHousehold(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: "comp-id", Role: model.RoleCompany},
	}
	svc := NewService(repo)

	_, err := svc.GetUserStats(context.Background(), "comp-id")
	if !errors.Is(err, ErrNotHousehold) {
		t.Fatalf("expected ErrNotHousehold, got %v", err)
	}
}

func TestGetUserStats_Household(t *testing.T) {
	repo := &stubRepo{
		userByID: &model.User{ID: "user-id", Role: model.RoleHousehold},
		stats:    &model.Stats{TotalWaste: 7.5, TotalPoints: 75, ItemsRecycled: 3},
	}
	svc := NewService(repo)

	stats, err := svc.GetUserStats(context.Background(), "user-id")
	if err != nil {
		t.Fatalf("GetUserStats error: %v", err)
	}
	if stats.TotalPoints != 75 || stats.ItemsRecycled != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestGetPickupRequests_BranchesByRole(t *testing.T) {
	repo := &stubRepo{
		userByID:         &model.User{ID: "comp-id", Role: model.RoleCompany},
		companyPickups:   []model.PickupRequest{{ID: "c1"}},
		requesterPickups: []model.PickupRequest{{ID: "r1"}, {ID: "r2"}},
	}
	svc := NewService(repo)

	res, err := svc.GetPickupRequests(context.Background(), "comp-id")
	if err != nil {
		t.Fatalf("GetPickupRequests error: %v", err)
	}
	if len(res) != 1 || res[0].ID != "c1" {
		t.Fatalf("company must see pickups addressed to it, got %+v", res)
	}

	repo.userByID = &model.User{ID: "user-id", Role: model.RoleHousehold}
	res, err = svc.GetPickupRequests(context.Background(), "user-id")
	if err != nil {
		t.Fatalf("GetPickupRequests error: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("household must see its own pickups, got %+v", res)
	}
}
