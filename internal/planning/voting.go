package planning

import (
	apperrors "triplab/pkg/errors"
)

// Direction is a vote value. None means "no vote" and is never stored.
type Direction int

const (
	Down Direction = -1
	None Direction = 0
	Up   Direction = 1
)

// ParseDirection accepts -1, 0 or 1.
func ParseDirection(n int) (Direction, error) {
	switch Direction(n) {
	case Down, None, Up:
		return Direction(n), nil
	}
	return None, apperrors.NewValidationError("vote must be -1, 0 or 1", map[string]interface{}{
		"direction": n,
	})
}

// ApplyVote returns a copy of votes with userID's vote set to d. None removes it.
func ApplyVote(votes map[string]int, userID string, d Direction) (map[string]int, error) {
	if _, err := ParseDirection(int(d)); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(votes)+1)
	for k, v := range votes {
		out[k] = v
	}
	if d == None {
		delete(out, userID)
	} else {
		out[userID] = int(d)
	}
	return out, nil
}

// ResolveVote is the click rule: clicking the held direction clears it,
// anything else switches to the clicked direction.
func ResolveVote(current, clicked Direction) Direction {
	if clicked == current {
		return None
	}
	return clicked
}

// Score is the sum of all stored votes.
func Score(votes map[string]int) int {
	total := 0
	for _, v := range votes {
		total += v
	}
	return total
}

// Tally breaks a vote map down for display.
type Tally struct {
	Up    int `json:"up"`
	Down  int `json:"down"`
	Score int `json:"score"`
}

func TallyVotes(votes map[string]int) Tally {
	var t Tally
	for _, v := range votes {
		switch {
		case v > 0:
			t.Up++
		case v < 0:
			t.Down++
		}
		t.Score += v
	}
	return t
}

// UserVote returns the direction userID currently holds.
func UserVote(votes map[string]int, userID string) Direction {
	return Direction(votes[userID])
}
