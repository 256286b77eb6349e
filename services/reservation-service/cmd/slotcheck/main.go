// Command slotcheck expands a business slot configuration for one date, the way the
// public slots endpoint would before reservations are counted.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fomo-app/fomo/services/reservation-service/internal/model"
	"github.com/fomo-app/fomo/services/reservation-service/internal/slots"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("slotcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		file = fs.String("config", "", "YAML business configuration")
		date = fs.String("date", time.Now().Format(time.DateOnly), "date to expand (YYYY-MM-DD)")
		step = fs.Int("step", slots.DefaultStepMinutes, "slot step in minutes")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*file) == "" {
		return fmt.Errorf("-config is required")
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	var cfg model.BusinessConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse %s: %w", *file, err)
	}
	day, err := slots.ParseDate(*date)
	if err != nil {
		return err
	}

	resolver := slots.Resolver{
		StepMinutes: *step,
		OnSkip: func(def model.TimeSlotDefinition, err error) {
			fmt.Fprintf(stderr, "skipped definition %s-%s: %v\n", def.Start, def.End, err)
		},
	}
	if slots.NewSet(cfg.ClosedDateList()...).Has(*date) {
		fmt.Fprintf(stdout, "%s (%s): closed\n", *date, day.Weekday())
		return nil
	}
	closed := slots.NewSet(cfg.ClosedSlotTimes(*date)...)

	expanded := resolver.ExpandSlots(cfg.Definitions, day.Weekday())
	fmt.Fprintf(stdout, "%s (%s): %d slots\n", *date, day.Weekday(), len(expanded))
	for _, s := range expanded {
		state := "open"
		if closed.Has(s.Time) {
			state = "closed"
		}
		line := fmt.Sprintf("  %s  party<=%d  %s", s.Time, resolver.ResolveMaxPartySize(s.Time, *date, cfg.Definitions), state)
		if def, ok := resolver.MatchDefinition(s.Time, day.Weekday(), cfg.Definitions); ok && def.Capacity > 0 {
			line += fmt.Sprintf("  capacity=%d", def.Capacity)
		}
		fmt.Fprintln(stdout, line)
	}
	return nil
}
