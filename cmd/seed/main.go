package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/calendar"
	"github.com/carebridge/clinic-scheduling/internal/db"
)

// Seeds a week of open calendars for a handful of doctors so the API can be
// exercised locally. Doctor and patient IDs are printed for use in requests.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	store := calendar.NewPgStore(pool)

	const (
		doctorCount  = 5
		daysAhead    = 7
		patientCount = 20
	)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Pediatrics",
	}

	for i := 0; i < doctorCount; i++ {
		doctorID := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		for d := 0; d < daysAhead; d++ {
			day := calendar.Today().AddDays(d)

			cal, err := calendar.NewDayCalendar(doctorID, day, calendar.HoursRange{
				Start: mustClock("09:00"),
				End:   mustClock("17:00"),
			})
			if err != nil {
				log.Fatalf("build calendar: %v", err)
			}

			// Lunch break plus a late emergency window on alternating days.
			if err := cal.SetBreaks([]calendar.HoursRange{
				{Start: mustClock("12:30"), End: mustClock("13:30")},
			}); err != nil {
				log.Fatalf("set breaks: %v", err)
			}
			if d%2 == 0 {
				eh := calendar.HoursRange{Start: mustClock("17:00"), End: mustClock("18:00")}
				cal.EmergencyHours = &eh
				cal.Regenerate()
			}

			if err := store.Save(context.Background(), cal); err != nil {
				log.Fatalf("save calendar: %v", err)
			}
		}

		log.Printf("doctor %s (%s, %s): %d days seeded", doctorID, name, spec, daysAhead)
	}

	for i := 0; i < patientCount; i++ {
		log.Printf("patient %s (%s, %s)", uuid.New(), gofakeit.Name(), gofakeit.Email())
	}

	log.Println("seed complete")
}

func mustClock(s string) calendar.ClockTime {
	c, err := calendar.ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}
