package domain

// NextFreeSlot returns the lowest seat index that is neither occupied nor
// assigned to a participant. It has no side effects.
func NextFreeSlot(seats []RequestedSeat, participants []Participant) (int, bool) {
	used := make(map[int]struct{}, len(participants))
	for _, p := range participants {
		used[p.SeatIndex] = struct{}{}
	}
	for i, s := range seats {
		if s.IsOccupied {
			continue
		}
		if _, ok := used[i]; ok {
			continue
		}
		return i, true
	}
	return -1, false
}
