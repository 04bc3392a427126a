package relationship

// ChildSnapshot is the flattened state of a nested child session, as restored
// from persisted progress. JoinEntityType scopes the snapshot to the
// relationship step whose join entity it edited.
type ChildSnapshot struct {
	ProgressID     string
	JoinEntityType string
	Data           map[string]any
}

// MergeChildProgresses folds persisted child-session state back into the
// relationship list. Snapshots for other join entity types are ignored. A
// snapshot matches an existing entry by child progress id first, then by
// related entity id; matches update the entry in place, non-matches with a
// resolvable related entity id append a new entry. Snapshots with no
// resolvable id are dropped. The merge is idempotent: re-running it against
// the same inputs leaves the list unchanged.
func (ed *Editor) MergeChildProgresses(children []ChildSnapshot) {
	for _, child := range children {
		if child.JoinEntityType != ed.step.JoinEntityType {
			continue
		}
		entry := ed.findByChild(child)
		if entry != nil {
			applyJoinFields(entry, ed.step, child.Data)
			(*entry)[KeyChildProgressID] = child.ProgressID
			if id, ok := lookupFold(child.Data, KeyRelatedEntityID); ok && id != nil {
				if (*entry)[KeyRelatedEntityID] == nil {
					(*entry)[KeyRelatedEntityID] = id
				}
			}
			continue
		}

		id, ok := lookupFold(child.Data, KeyRelatedEntityID)
		if !ok || id == nil {
			continue
		}
		fresh := ed.seedEntry()
		fresh[KeyRelatedEntityID] = id
		applyJoinFields(&fresh, ed.step, child.Data)
		fresh[KeyChildProgressID] = child.ProgressID
		ed.entries = append(ed.entries, fresh)
	}
}

func (ed *Editor) findByChild(child ChildSnapshot) *Entry {
	if child.ProgressID != "" {
		for i := range ed.entries {
			if ed.entries[i].ChildProgressID() == child.ProgressID {
				return &ed.entries[i]
			}
		}
	}
	if id, ok := lookupFold(child.Data, KeyRelatedEntityID); ok && id != nil {
		return ed.find(id)
	}
	return nil
}
