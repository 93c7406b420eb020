package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"crisp-voting-client/models"
)

// VotingWindow is the period in which a round accepts ballots. The tally
// server reports start_time, duration and expiration as unix seconds.
type VotingWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewVotingWindow reads the window of round. The end is the expiration when
// the server sends one, otherwise start plus duration.
func NewVotingWindow(round *models.Round) (*VotingWindow, error) {
	start, err := parseUnixSeconds(round.StartTime)
	if err != nil {
		return nil, errors.Wrap(err, "invalid start_time")
	}

	var end time.Time
	if strings.TrimSpace(round.Expiration) != "" {
		if end, err = parseUnixSeconds(round.Expiration); err != nil {
			return nil, errors.Wrap(err, "invalid expiration")
		}
	} else {
		d, err := strconv.ParseUint(strings.TrimSpace(round.Duration), 10, 63)
		if err != nil {
			return nil, errors.Wrap(err, "invalid duration")
		}
		end = start.Add(time.Duration(d) * time.Second)
	}

	if end.Before(start) {
		return nil, errors.Errorf("window ends before it starts, %s < %s", end, start)
	}

	return &VotingWindow{Start: start, End: end}, nil
}

func (w *VotingWindow) IsOpen(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End)
}

// Remaining is zero once the window has closed.
func (w *VotingWindow) Remaining(now time.Time) time.Duration {
	if !now.Before(w.End) {
		return 0
	}
	if now.Before(w.Start) {
		return w.End.Sub(w.Start)
	}
	return w.End.Sub(now)
}

func parseUnixSeconds(s string) (time.Time, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(i, 0).UTC(), nil
}
