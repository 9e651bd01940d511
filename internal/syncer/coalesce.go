package syncer

// coalesce merges newer into older, both targeting the same entity and
// neither in flight. It reports false when the two cancel out and nothing
// needs to be written.
func coalesce(older, newer Operation) (Operation, bool) {
	switch newer.Kind {
	case OpDelete:
		if older.Kind == OpCreate && older.Attempt == 0 {
			// The remote never saw the entity.
			return Operation{}, false
		}
		newer.Attempt = 0
		newer.ID = older.ID
		newer.EnqueuedAt = older.EnqueuedAt
		return newer, true

	case OpUpdate:
		switch older.Kind {
		case OpCreate:
			older.State = newer.State
			older.UpdatedAt = newer.UpdatedAt
			older.Generation = newer.Generation
			older.Actor = newer.Actor
			return older, true
		case OpDelete:
			return older, true
		}
		newer.Attempt = 0
		newer.ID = older.ID
		newer.EnqueuedAt = older.EnqueuedAt
		return newer, true

	default:
		newer.ID = older.ID
		newer.EnqueuedAt = older.EnqueuedAt
		return newer, true
	}
}
