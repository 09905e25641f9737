package progress_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/progress"
	"github.com/mext-ai/block-685d27eb4a3f38796e3d8cc3/internal/storage"
)

func sampleProgress(t *testing.T) progress.Progress {
	t.Helper()
	p := progress.New(order).WithLearner("Inès", "#e74c3c")
	p, _ = mustApply(t, p, "ww1", 1, 6)
	p, _ = mustApply(t, p, "ww1", 2, 3, "Quand a eu lieu la bataille de Verdun ?")
	p = progress.SelectMode(p, progress.Challenge)
	return p
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	p := sampleProgress(t)

	data, err := progress.Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, shape, err := progress.Decode(data, order)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if shape != progress.ShapeCurrent {
		t.Errorf("shape = %v, want current", shape)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, p)
	}
}

func TestDecode_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ``},
		{"not json", `{{{`},
		{"array", `[1,2,3]`},
		{"unknown layout", `{"hello":"world"}`},
		{"wrong version", `{"version":1,"learnerName":"a","avatarColor":"b","mode":"discovery","topics":{"ww1":{"levels":[]}}}`},
		{"short levels", `{"version":2,"learnerName":"a","avatarColor":"b","mode":"discovery","topics":{"ww1":{"levels":[{"rank":1,"unlocked":true,"completed":false,"passed":false,"bestScore":0,"stars":0}]}}}`},
		{"bad mode", `{"version":2,"learnerName":"a","avatarColor":"b","mode":"speedrun","topics":{"ww1":{"levels":[]}}}`},
		{"legacy wrong types", `{"gameState":{"playerName":42}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := progress.Decode([]byte(tt.data), order)
			if !errors.Is(err, progress.ErrCorruptSnapshot) {
				t.Errorf("Decode() error = %v, want ErrCorruptSnapshot", err)
			}
		})
	}
}

func TestDecode_RejectsBrokenInvariants(t *testing.T) {
	p := progress.New(order)
	tp := p.Topics["ww1"]
	tp.Levels[3].Passed = true
	p.Topics["ww1"] = tp

	data, err := progress.Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, _, err := progress.Decode(data, order); !errors.Is(err, progress.ErrCorruptSnapshot) {
		t.Errorf("Decode() error = %v, want ErrCorruptSnapshot for passed-not-completed", err)
	}
}

func TestDecode_AddsMissingTopics(t *testing.T) {
	p := progress.New(order[:2])
	data, err := progress.Encode(p)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, _, err := progress.Decode(data, order)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(got.Topics) != len(order) {
		t.Fatalf("len(Topics) = %d, want %d", len(got.Topics), len(order))
	}
	if got.Topics["europe-1989"].Levels[0].Unlocked {
		t.Error("added topic should start locked")
	}
}

func TestDecode_LegacyMigration(t *testing.T) {
	legacy := `{
		"gameState": {
			"currentPeriod": null,
			"unlockedPeriods": ["ww1", "totalitarian"],
			"completedPeriods": ["ww1"],
			"totalScore": 8,
			"playerName": "Hugo",
			"avatarColor": "#2ecc71"
		},
		"periods": [{"id": "ww1", "unlocked": true, "completed": true, "score": 8}],
		"revisionStats": {
			"ww1": {"attempts": 1, "bestScore": 8, "lastScore": 8, "averageScore": 8, "weaknesses": []},
			"ww1-1": {"attempts": 2, "bestScore": 5, "lastScore": 5, "averageScore": 4, "weaknesses": ["Q"], "bestPercentage": 83.3, "passed": true}
		}
	}`

	got, shape, err := progress.Decode([]byte(legacy), order)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if shape != progress.ShapeLegacy {
		t.Fatalf("shape = %v, want legacy", shape)
	}
	if got.LearnerName != "Hugo" || got.AvatarColor != "#2ecc71" {
		t.Errorf("profile = %q %q", got.LearnerName, got.AvatarColor)
	}
	if got.Legacy == nil || got.Legacy.TotalScore != 8 || !reflect.DeepEqual(got.Legacy.CompletedTopics, []string{"ww1"}) {
		t.Errorf("Legacy = %+v", got.Legacy)
	}
	if got.UnlockedLevels() != 1 || !got.Topics["ww1"].Levels[0].Unlocked {
		t.Error("migrated progress should start from the initial unlock state")
	}
	if _, ok := got.Stats["ww1"]; ok {
		t.Error("per-topic legacy stats should not be carried over")
	}
	if st := got.Stats["ww1-1"]; st.Attempts != 2 || !st.Passed {
		t.Errorf("Stats[ww1-1] = %+v", st)
	}

	// A migrated value re-encodes in the current layout.
	data, err := progress.Encode(got)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	again, shape, err := progress.Decode(data, order)
	if err != nil || shape != progress.ShapeCurrent {
		t.Fatalf("Decode(re-encoded) = %v, %v", shape, err)
	}
	if !reflect.DeepEqual(again, got) {
		t.Errorf("re-encoded migration mismatch:\n got %+v\nwant %+v", again, got)
	}
}

func TestRepository_MigratesLevelProgress(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	saved := `{
		"gameState": {
			"currentPeriod": null,
			"unlockedPeriods": ["ww1", "totalitarian"],
			"completedPeriods": [],
			"totalScore": 0,
			"playerName": "Lina",
			"avatarColor": "#e67e22"
		},
		"periods": [
			{"id": "ww1", "unlocked": true, "completed": false},
			{"id": "totalitarian", "unlocked": true, "completed": false},
			{"id": "ww2", "unlocked": false, "completed": false}
		],
		"revisionStats": {
			"ww1-1": {"attempts": 1, "bestScore": 5, "lastScore": 5, "averageScore": 5, "weaknesses": ["Q3"], "bestPercentage": 83.3, "passed": true}
		},
		"periodProgress": {
			"ww1": {
				"overallProgress": 10,
				"levels": [
					{"level": 1, "title": "Niveau 1", "difficulty": "Facile", "unlocked": true, "completed": true, "score": 5, "stars": 2, "passed": true},
					{"level": 2, "title": "Niveau 2", "difficulty": "Facile", "unlocked": true, "completed": false, "stars": 0, "passed": false},
					{"level": 3, "title": "Niveau 3", "difficulty": "Facile", "unlocked": false, "completed": false, "stars": 0}
				]
			},
			"totalitarian": {
				"overallProgress": 0,
				"levels": [
					{"level": 1, "title": "Niveau 1", "difficulty": "Facile", "unlocked": true, "completed": false, "stars": 0},
					{"level": 4, "title": "Niveau 4", "difficulty": "Moyen", "unlocked": true, "completed": false, "score": 9, "stars": 7, "passed": true},
					{"level": 12, "title": "Hors borne", "difficulty": "Expert", "unlocked": true, "completed": true, "stars": 3, "passed": true}
				]
			}
		}
	}`
	if err := store.Put(ctx, progress.LegacyStorageKey, []byte(saved)); err != nil {
		t.Fatal(err)
	}
	repo := progress.NewRepository(store, order)

	got, status := repo.Load(ctx)
	if status != progress.StatusMigrated {
		t.Fatalf("status = %v, want migrated", status)
	}

	ww1 := got.Topics["ww1"]
	tests := []struct {
		name string
		got  progress.LevelState
		want progress.LevelState
	}{
		{"passed level keeps its result", ww1.Levels[0], progress.LevelState{Rank: 1, Unlocked: true, Completed: true, Passed: true, BestScore: 5, Stars: 2}},
		{"unlocked level stays unlocked", ww1.Levels[1], progress.LevelState{Rank: 2, Unlocked: true}},
		{"locked level stays locked", ww1.Levels[2], progress.LevelState{Rank: 3}},
		{"passed implies completed, scores clamped", got.Topics["totalitarian"].Levels[3], progress.LevelState{Rank: 4, Unlocked: true, Completed: true, Passed: true, BestScore: 6, Stars: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("level = %+v, want %+v", tt.got, tt.want)
			}
		})
	}

	if !ww1.Unlocked || !got.Topics["totalitarian"].Unlocked || got.Topics["ww2"].Unlocked {
		t.Error("topic unlock flags not carried over")
	}
	if ww1.OverallProgress != 10 || got.Topics["totalitarian"].OverallProgress != 10 {
		t.Errorf("overallProgress = %v, %v; want 10, 10", ww1.OverallProgress, got.Topics["totalitarian"].OverallProgress)
	}
	if st := got.Stats["ww1-1"]; st.Passed != ww1.Levels[0].Passed {
		t.Errorf("Stats[ww1-1].Passed = %v, level passed = %v", st.Passed, ww1.Levels[0].Passed)
	}
	if got.Legacy == nil || got.Legacy.CompletedTopics != nil {
		t.Errorf("Legacy = %+v, want empty completed topics as nil", got.Legacy)
	}
	if !progress.Playable(got, "ww1", 2) || progress.Playable(got, "ww1", 3) {
		t.Error("playable levels differ from the saved unlocks")
	}
}

func TestRepository_LoadFresh(t *testing.T) {
	repo := progress.NewRepository(storage.NewMemoryStore(), order)

	got, status := repo.Load(context.Background())
	if status != progress.StatusFresh {
		t.Errorf("status = %v, want fresh", status)
	}
	if !reflect.DeepEqual(got, progress.New(order)) {
		t.Error("fresh load differs from New")
	}
}

func TestRepository_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	repo := progress.NewRepository(store, order)
	p := sampleProgress(t)

	if err := repo.Save(ctx, p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := store.Get(ctx, progress.LegacyStorageKey); !errors.Is(err, storage.ErrNotFound) {
		t.Error("Save() must not write the legacy key")
	}

	got, status := repo.Load(ctx)
	if status != progress.StatusRestored {
		t.Errorf("status = %v, want restored", status)
	}
	if !reflect.DeepEqual(got, p) {
		t.Error("loaded progress differs from saved")
	}
}

func TestRepository_CorruptFallsBack(t *testing.T) {
	ctx := context.Background()
	blobs := []string{`garbage`, `{"version":2}`, `{"topics":{"ww1":{"levels":"no"}}}`, `null`}

	for _, blob := range blobs {
		store := storage.NewMemoryStore()
		if err := store.Put(ctx, progress.StorageKey, []byte(blob)); err != nil {
			t.Fatal(err)
		}
		repo := progress.NewRepository(store, order)

		got, status := repo.Load(ctx)
		if status != progress.StatusRecovered {
			t.Errorf("Load(%q) status = %v, want recovered", blob, status)
		}
		if !reflect.DeepEqual(got, progress.New(order)) {
			t.Errorf("Load(%q) did not yield the initial state", blob)
		}
	}
}

func TestRepository_MigratesLegacyKey(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	legacy := `{"gameState":{"playerName":"Jade","avatarColor":"#9b59b6","completedPeriods":[],"totalScore":0}}`
	if err := store.Put(ctx, progress.LegacyStorageKey, []byte(legacy)); err != nil {
		t.Fatal(err)
	}
	repo := progress.NewRepository(store, order)

	got, status := repo.Load(ctx)
	if status != progress.StatusMigrated || got.LearnerName != "Jade" {
		t.Fatalf("Load() = %q, %v; want Jade migrated", got.LearnerName, status)
	}

	// A migrated value survives a save and reload unchanged.
	if err := repo.Save(ctx, got); err != nil {
		t.Fatal(err)
	}
	reloaded, status := repo.Load(ctx)
	if status != progress.StatusRestored {
		t.Fatalf("status after save = %v, want restored", status)
	}
	if !reflect.DeepEqual(reloaded, got) {
		t.Errorf("reloaded migration mismatch:\n got %+v\nwant %+v", reloaded.Legacy, got.Legacy)
	}

	// The current key wins once written.
	got = got.WithLearner("Jade", "#000000")
	if err := repo.Save(ctx, got); err != nil {
		t.Fatal(err)
	}
	again, status := repo.Load(ctx)
	if status != progress.StatusRestored || again.AvatarColor != "#000000" {
		t.Errorf("Load() after save = %q, %v", again.AvatarColor, status)
	}
}

func TestRepository_Reset(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	repo := progress.NewRepository(store, order)
	if err := repo.Save(ctx, sampleProgress(t)); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, progress.LegacyStorageKey, []byte(`{}`)); err != nil {
		t.Fatal(err)
	}

	fresh, err := repo.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if fresh.HasLearner() || fresh.UnlockedLevels() != 1 {
		t.Error("Reset() should return the initial state")
	}
	for _, key := range []string{progress.StorageKey, progress.LegacyStorageKey} {
		if _, err := store.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("key %s still present after reset", key)
		}
	}
	if _, status := repo.Load(ctx); status != progress.StatusFresh {
		t.Errorf("status after reset = %v, want fresh", status)
	}
}
