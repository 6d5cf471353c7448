package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"marketbot/internal/domain/listing"
	"marketbot/internal/infrastructure/persistence/sqlite/model"
	sqliterepo "marketbot/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "marketbot/internal/infrastructure/persistence/sqlite/uow"
	"marketbot/internal/ports"
)

const (
	loginURL       = "https://m.test/login"
	homeURL        = "https://m.test/home"
	marketplaceURL = "https://m.test/marketplace"
	sellingURL     = "https://m.test/marketplace/you/selling"
	checkpointURL  = "https://m.test/checkpoint"
)

func testPlaybook() Playbook {
	playbook := DefaultPlaybook()
	playbook.URLs = URLs{Login: loginURL, Marketplace: marketplaceURL, Selling: sellingURL}
	playbook.Targets = map[string]Target{
		TargetEmail:            {Locators: []string{"id:email"}},
		TargetPassword:         {Locators: []string{"id:pass"}},
		TargetLoginButton:      {Locators: []string{"id:login"}, Intent: []string{"log in"}},
		TargetEditButton:       {Locators: []string{"css:.edit"}, Intent: []string{"edit"}},
		TargetAudienceSettings: {Locators: []string{"css:.audience"}},
		TargetPublicOption:     {Locators: []string{"css:.public"}},
		TargetSaveButton:       {Locators: []string{"css:.save"}, Intent: []string{"save"}},
		TargetListingLink:      {Locators: []string{"css:a.item"}},
	}
	playbook.Retry = testPolicies()
	playbook.Login = LoginIndicators{
		SuccessURL:        []string{"m.test/home"},
		FailureURL:        []string{"login", "checkpoint"},
		Landmarks:         []string{"css:.nav", "css:.menu", "css:.market-link"},
		MinLandmarks:      2,
		ProfileMarkers:    []string{"css:.profile"},
		MarketplaceMarker: "marketplace",
	}
	playbook.Resolve = ResolveSettings{ProbeTimeoutMillis: 20, PollMillis: 10, FallbackPattern: "css:button"}
	return playbook
}

type harness struct {
	orchestrator *Orchestrator
	driver       *fakeDriver
	session      *fakeSession
	sink         *recordingSink
	listings     *sqliterepo.ListingRepository
	logs         *sqliterepo.ActionLogRepository
	runs         *sqliterepo.RunRepository
	settings     *sqliterepo.SettingsRepository
	store        Store
	loginButton  *fakeHandle
}

type harnessOption func(*Store)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "lifecycle.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	session := newFakeSession()
	loginButton := &fakeHandle{text: "Log In", goesTo: homeURL}
	session.put(loginURL, "id:email", &fakeHandle{})
	session.put(loginURL, "id:pass", &fakeHandle{})
	session.put(loginURL, "id:login", loginButton)
	session.put(homeURL, "css:.nav", &fakeHandle{})
	session.put(homeURL, "css:.menu", &fakeHandle{})
	session.put(homeURL, "css:.profile", &fakeHandle{})

	h := &harness{
		driver:      &fakeDriver{session: session},
		session:     session,
		sink:        &recordingSink{},
		listings:    sqliterepo.NewListingRepository(db),
		logs:        sqliterepo.NewActionLogRepository(db),
		runs:        sqliterepo.NewRunRepository(db),
		settings:    sqliterepo.NewSettingsRepository(db),
		loginButton: loginButton,
	}

	store := Store{
		Listings:   h.listings,
		Logs:       h.logs,
		Runs:       h.runs,
		Settings:   h.settings,
		UnitOfWork: sqliteuow.NewUnitOfWork(db),
	}
	for _, opt := range opts {
		opt(&store)
	}
	h.store = store

	runCount := 0
	orchestrator, err := NewOrchestrator(h.driver, store, h.sink, Options{
		Playbook: testPlaybook(),
		Delay:    NoDelay,
		Sleep:    (&sleepRecorder{}).Sleep,
		NewRunID: func() string {
			runCount++
			return fmt.Sprintf("run-%d", runCount)
		},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	h.orchestrator = orchestrator
	return h
}

func (h *harness) seed(t *testing.T, itemID string) string {
	t.Helper()
	url := "https://m.test/marketplace/item/" + itemID
	if _, err := h.listings.UpsertListing(context.Background(), ports.ListingUpsert{ItemID: itemID, URL: url, Title: "item " + itemID}); err != nil {
		t.Fatalf("seed %s: %v", itemID, err)
	}
	return url
}

// publishable gives the listing page an edit control and a save control.
func (h *harness) publishable(url string) {
	h.session.put(url, "css:.edit", &fakeHandle{text: "Edit"})
	h.session.put(url, "css:.save", &fakeHandle{text: "Save"})
}

func credentials() RunConfig {
	return RunConfig{Email: "seller@example.com", Password: "secret"}
}

func TestRunProcessesNewestFirstAndReportsStats(t *testing.T) {
	h := newHarness(t)
	urlA := h.seed(t, "A")
	urlB := h.seed(t, "B")
	h.publishable(urlB)

	report, err := h.orchestrator.Run(context.Background(), credentials())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.State != StateDone || report.Attempted != 2 || report.Processed != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}

	firstB, firstA := -1, -1
	for i, visited := range h.session.visited {
		if visited == urlB && firstB < 0 {
			firstB = i
		}
		if visited == urlA && firstA < 0 {
			firstA = i
		}
	}
	if firstB < 0 || firstA < 0 || firstB > firstA {
		t.Fatalf("visit order = %v, want B before A", h.session.visited)
	}

	want := listing.Stats{Total: 2, Public: 1, Visible: 1, Pending: 0, Processed: 1, Failed: 1, Success: 0.5}
	if report.Stats != want {
		t.Fatalf("stats = %+v, want %+v", report.Stats, want)
	}

	b, err := h.listings.GetListing(context.Background(), "B")
	if err != nil {
		t.Fatalf("get B: %v", err)
	}
	if b.Status != listing.StatusProcessed || !b.IsPublic || !b.IsVisible || b.ProcessingStrategy != string(StrategyDirectEdit) {
		t.Fatalf("B = %+v", b)
	}
	a, err := h.listings.GetListing(context.Background(), "A")
	if err != nil {
		t.Fatalf("get A: %v", err)
	}
	if a.Status != listing.StatusFailed || a.IsPublic || a.IsVisible {
		t.Fatalf("A = %+v", a)
	}

	if h.session.closes != 1 {
		t.Fatalf("session closed %d times, want 1", h.session.closes)
	}
	if h.sink.count(ports.EventUpdateListing) != 2 || h.sink.count(ports.EventUpdateStats) != 1 {
		t.Fatalf("sink events = %+v", h.sink.events)
	}

	run, err := h.runs.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if run.State != string(StateDone) || run.Processed != 1 || run.Failed != 1 {
		t.Fatalf("run record = %+v", run)
	}

	logs, err := h.logs.ListLogs(context.Background(), ports.ActionLogFilter{ItemID: "A"})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 2 || logs[0].Outcome != listing.OutcomeError {
		t.Fatalf("A logs = %+v", logs)
	}
}

func TestRunFallsBackToLaterStrategies(t *testing.T) {
	h := newHarness(t)
	url := h.seed(t, "Q")
	// No edit or audience control: only the quick save path works.
	h.session.put(url, "css:.save", &fakeHandle{text: "Save"})

	if _, err := h.orchestrator.Run(context.Background(), credentials()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got, err := h.listings.GetListing(context.Background(), "Q")
	if err != nil {
		t.Fatalf("get Q: %v", err)
	}
	if got.Status != listing.StatusProcessed || got.ProcessingStrategy != string(StrategyQuickSave) {
		t.Fatalf("Q = %+v", got)
	}
}

func TestRunDiscoversListingsWhenNonePending(t *testing.T) {
	h := newHarness(t)
	h.session.put(sellingURL, "css:a.item",
		&fakeHandle{text: "Red sofa\n$20", attrs: map[string]string{"href": "/marketplace/item/111/?ref=selling"}},
		&fakeHandle{text: "Red sofa", attrs: map[string]string{"href": "https://m.test/marketplace/item/111/"}},
		&fakeHandle{text: "Gaming laptop", attrs: map[string]string{"href": "https://m.test/marketplace/item/222"}},
		&fakeHandle{text: "no link", attrs: map[string]string{}},
	)
	h.publishable("https://m.test/marketplace/item/111/?ref=selling")

	report, err := h.orchestrator.Run(context.Background(), credentials())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Attempted != 2 || report.Processed != 1 {
		t.Fatalf("report = %+v", report)
	}

	sofa, err := h.listings.GetListing(context.Background(), "111")
	if err != nil {
		t.Fatalf("get 111: %v", err)
	}
	if sofa.Title != "Red sofa" || sofa.Price != "20" || sofa.Category != "furniture" || sofa.URL != "https://m.test/marketplace/item/111/?ref=selling" {
		t.Fatalf("sofa = %+v", sofa)
	}
	laptop, err := h.listings.GetListing(context.Background(), "222")
	if err != nil {
		t.Fatalf("get 222: %v", err)
	}
	if laptop.Category != "electronics" || laptop.Price != "" || laptop.Status != listing.StatusFailed {
		t.Fatalf("laptop = %+v", laptop)
	}
	if h.sink.count(ports.EventNewListing) != 2 {
		t.Fatalf("new_listing events = %d, want 2", h.sink.count(ports.EventNewListing))
	}
}

func TestRunLoginQuorum(t *testing.T) {
	testCases := []struct {
		name          string
		dropProfile   bool
		blockMarket   bool
		wantState     State
		wantAttempted int
	}{
		// url, landmarks, profile, marketplace = [T,T,T,F] -> 0.75
		{name: "three of four", blockMarket: true, wantState: StateDone},
		// [T,T,F,F] -> 0.5
		{name: "two of four", dropProfile: true, blockMarket: true, wantState: StateAborted},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			h := newHarness(t)
			if testCase.dropProfile {
				delete(h.session.elements[homeURL], "css:.profile")
			}
			if testCase.blockMarket {
				h.session.redirects[marketplaceURL] = checkpointURL
			}

			report, err := h.orchestrator.Run(context.Background(), credentials())
			if report.State != testCase.wantState {
				t.Fatalf("state = %s, want %s (err = %v)", report.State, testCase.wantState, err)
			}
			if testCase.wantState == StateAborted {
				if !errors.Is(err, ErrRunAborted) {
					t.Fatalf("err = %v, want ErrRunAborted", err)
				}
				if h.loginButton.clicks != 3 {
					t.Fatalf("login attempts = %d, want 3", h.loginButton.clicks)
				}
			} else if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if h.session.closes != 1 {
				t.Fatalf("session closed %d times, want 1", h.session.closes)
			}
		})
	}
}

func TestRunAbortsOnDriverFault(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "A")
	h.session.findFault = ports.NewDriverFault("find", errors.New("browser crashed"))

	report, err := h.orchestrator.Run(context.Background(), credentials())
	if !errors.Is(err, ErrRunAborted) || !ports.IsDriverFault(err) {
		t.Fatalf("err = %v, want aborted driver fault", err)
	}
	if report.State != StateAborted {
		t.Fatalf("state = %s, want Aborted", report.State)
	}
	if h.session.closes != 1 {
		t.Fatalf("session closed %d times, want 1", h.session.closes)
	}
	if h.loginButton.clicks != 0 {
		t.Fatalf("fatal fault must not be retried")
	}

	run, err := h.runs.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if run.State != string(StateAborted) || run.Message == "" {
		t.Fatalf("run record = %+v", run)
	}
}

func TestRunMarksListingFailedOnDriverFault(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "B")
	url := h.seed(t, "A")
	h.session.put(url, "css:.edit", &fakeHandle{text: "Edit", clickErr: ports.NewDriverFault("click", errors.New("target closed"))})
	h.session.put(url, "css:.save", &fakeHandle{text: "Save"})

	report, err := h.orchestrator.Run(context.Background(), credentials())
	if !errors.Is(err, ErrRunAborted) || !ports.IsDriverFault(err) {
		t.Fatalf("err = %v, want aborted driver fault", err)
	}
	if report.State != StateAborted || report.Attempted != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}

	a, err := h.listings.GetListing(context.Background(), "A")
	if err != nil {
		t.Fatalf("get A: %v", err)
	}
	if a.Status != listing.StatusFailed || a.IsPublic || a.IsVisible {
		t.Fatalf("A = %+v, want failed", a)
	}
	b, err := h.listings.GetListing(context.Background(), "B")
	if err != nil {
		t.Fatalf("get B: %v", err)
	}
	if b.Status != listing.StatusPending {
		t.Fatalf("B = %+v, want untouched", b)
	}

	logs, err := h.logs.ListLogs(context.Background(), ports.ActionLogFilter{ItemID: "A"})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	failed := false
	for _, entry := range logs {
		if entry.Action == "make_public" && entry.Outcome == listing.OutcomeError {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("no failure entry for A: %+v", logs)
	}
	if h.sink.count(ports.EventUpdateListing) != 1 || h.session.closes != 1 {
		t.Fatalf("update events = %d closes = %d", h.sink.count(ports.EventUpdateListing), h.session.closes)
	}
}

func TestRunCancelledMidRunStillFinishesRecord(t *testing.T) {
	h := newHarness(t)
	url := h.seed(t, "A")
	h.publishable(url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.session.onNavigate[url] = cancel

	report, err := h.orchestrator.Run(ctx, credentials())
	if !errors.Is(err, ErrRunAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want aborted by cancellation", err)
	}
	if report.State != StateAborted || h.session.closes != 1 {
		t.Fatalf("report = %+v closes = %d", report, h.session.closes)
	}

	run, err := h.runs.LatestRun(context.Background())
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if run.State != string(StateAborted) || run.FinishedAt == nil {
		t.Fatalf("run record = %+v, want finished Aborted", run)
	}

	a, err := h.listings.GetListing(context.Background(), "A")
	if err != nil {
		t.Fatalf("get A: %v", err)
	}
	if a.Status != listing.StatusFailed {
		t.Fatalf("A status = %s, want failed", a.Status)
	}

	logs, err := h.logs.ListLogs(context.Background(), ports.ActionLogFilter{RunID: report.RunID})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	aborted := false
	for _, entry := range logs {
		if entry.Action == "transition" && strings.HasSuffix(strings.SplitN(entry.Message, ":", 2)[0], "-> "+string(StateAborted)) {
			aborted = true
		}
	}
	if !aborted {
		t.Fatalf("aborted transition not logged: %+v", logs)
	}

	snapshot, err := NewService(h.orchestrator, h.store, RunDefaults{}).Snapshot(context.Background(), 5)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snapshot.IsRunning {
		t.Fatalf("snapshot still reports a running lifecycle")
	}
}

func TestRunAbortsWhenDriverCannotStart(t *testing.T) {
	h := newHarness(t)
	h.driver.startErr = ports.NewDriverFault("start", errors.New("chrome not found"))

	report, err := h.orchestrator.Run(context.Background(), credentials())
	if !errors.Is(err, ErrRunAborted) || report.State != StateAborted {
		t.Fatalf("report = %+v err = %v", report, err)
	}
	if h.session.closes != 0 {
		t.Fatalf("no session was started, close count = %d", h.session.closes)
	}
}

func TestRunRequiresCredential(t *testing.T) {
	h := newHarness(t)

	_, err := h.orchestrator.Run(context.Background(), RunConfig{Email: "seller@example.com"})
	if !errors.Is(err, listing.ErrNoCredential) || !errors.Is(err, ErrRunAborted) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
	if h.driver.starts != 0 {
		t.Fatalf("driver should not start without a credential")
	}
}

func TestRunStopsEarlyAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "A")
	h.seed(t, "B")
	h.seed(t, "C")

	cfg := credentials()
	cfg.MaxConsecutiveFailures = 2
	report, err := h.orchestrator.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.State != StateDone || !report.EarlyStop || report.Attempted != 2 || report.Failed != 2 {
		t.Fatalf("report = %+v", report)
	}
	if report.Stats.Pending != 1 {
		t.Fatalf("pending = %d, want 1 untouched listing", report.Stats.Pending)
	}
	if h.session.closes != 1 {
		t.Fatalf("session closed %d times, want 1", h.session.closes)
	}
}

type missingListingRepo struct {
	ports.ListingRepository
}

func (missingListingRepo) UpdateStatus(context.Context, string, listing.Resolution) error {
	return ports.ErrListingNotFound
}

func TestRunSurfacesMissingListing(t *testing.T) {
	h := newHarness(t, func(store *Store) {
		store.Listings = missingListingRepo{ListingRepository: store.Listings}
	})
	h.seed(t, "A")

	report, err := h.orchestrator.Run(context.Background(), credentials())
	if !errors.Is(err, ports.ErrListingNotFound) || !errors.Is(err, ErrRunAborted) {
		t.Fatalf("err = %v, want surfaced ErrListingNotFound", err)
	}
	if report.State != StateAborted || h.session.closes != 1 {
		t.Fatalf("report = %+v closes = %d", report, h.session.closes)
	}
}

func TestUsePlaybookAppliesToNextRun(t *testing.T) {
	h := newHarness(t)
	const otherSelling = "https://m.test/marketplace/other/selling"

	next := testPlaybook()
	next.URLs.Selling = otherSelling
	if err := h.orchestrator.UsePlaybook(next); err != nil {
		t.Fatalf("UsePlaybook() error = %v", err)
	}
	if h.orchestrator.Playbook().URLs.Selling != otherSelling {
		t.Fatalf("playbook not swapped")
	}

	if _, err := h.orchestrator.Run(context.Background(), credentials()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.session.visits(otherSelling) == 0 || h.session.visits(sellingURL) != 0 {
		t.Fatalf("discovery did not use the new selling page: visited %v", h.session.visited)
	}

	broken := testPlaybook()
	broken.Retry[ClassLogin] = RetryPolicy{MaxAttempts: 0, Backoff: BackoffFixed}
	if err := h.orchestrator.UsePlaybook(broken); err == nil {
		t.Fatalf("UsePlaybook() with invalid retry policy error = nil")
	}
	if h.orchestrator.Playbook().URLs.Selling != otherSelling {
		t.Fatalf("rejected playbook replaced the current one")
	}
}

func TestFailedListingNamesPageProblems(t *testing.T) {
	h := newHarness(t)
	playbook := testPlaybook()
	playbook.Problems = []ProblemIndicator{
		{Name: "error_message", Locator: "css:.error-banner"},
		{Name: "slow_loading", Locator: "css:.spinner"},
	}
	if err := h.orchestrator.UsePlaybook(playbook); err != nil {
		t.Fatalf("UsePlaybook() error = %v", err)
	}

	url := h.seed(t, "B")
	h.session.put(url, "css:.error-banner", &fakeHandle{text: "Something went wrong"})

	report, err := h.orchestrator.Run(context.Background(), credentials())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}

	entries, err := h.logs.ListLogs(context.Background(), ports.ActionLogFilter{ItemID: "B"})
	if err != nil {
		t.Fatalf("ListLogs() error = %v", err)
	}
	found := false
	for _, entry := range entries {
		if entry.Outcome == listing.OutcomeError && strings.Contains(entry.Message, "page problems: error_message)") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no failure entry names the page problem: %+v", entries)
	}
}
