package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/alecgard/teambeat/internal/entitlement"
	"github.com/alecgard/teambeat/internal/team"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo organization, team and members",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

const demoOrg = "demo"

var demoMembers = []team.AddMemberInput{
	{UserID: "demo-alice", Username: "alice", Name: "Alice Example", Email: "alice@example.com", ViewRatings: true},
	{UserID: "demo-bob", Username: "bob", Name: "Bob Example", Email: "bob@example.com"},
	{UserID: "demo-carol", Username: "carol", Email: "carol@example.com"},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	orgID, err := entitlement.NewStore(a.pool).Grant(ctx, demoOrg, "standard", time.Now().AddDate(1, 0, 0))
	if err != nil {
		return fmt.Errorf("granting demo entitlement: %w", err)
	}

	// Check if seed has already run.
	existing, err := a.teams.List(ctx, orgID)
	if err != nil {
		return fmt.Errorf("checking existing teams: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("demo data already exists, skipping seed", "org_id", orgID)
		return nil
	}

	t, err := a.teams.Create(ctx, team.CreateTeamInput{
		OrgID:      orgID,
		Name:       "Demo Team",
		SendTime:   "09:00",
		Timezone:   "UTC",
		DaysOfWeek: []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
	})
	if err != nil {
		return fmt.Errorf("creating demo team: %w", err)
	}
	slog.Info("created team", "name", t.Name, "id", t.ID, "next_send", t.NextSend)

	for _, input := range demoMembers {
		m, err := a.teams.AddMember(ctx, t.ID, input)
		if err != nil {
			return fmt.Errorf("adding member %q: %w", input.Username, err)
		}
		slog.Info("added member", "username", m.Username, "id", m.ID)
	}

	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Team:      %s (%s)\n", t.Name, t.ID)
	fmt.Printf("Members:   %d\n", len(demoMembers))
	fmt.Printf("Next send: %s\n", t.NextSend.Format(time.RFC3339))
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  teambeat dispatch %s\n", t.ID)
	fmt.Printf("  curl -H 'Authorization: Bearer $TEAMBEAT_ADMIN_KEY' %s/api/v1/admin/teams/%s/cycles\n", cfg.BaseURL, t.ID)

	return nil
}
