package conversation

// DocumentTracker holds at most one active context document name.
type DocumentTracker struct {
	name   string
	active bool
}

// SetActive records name as the active document, replacing any previous one.
// An empty name clears the slot.
func (d *DocumentTracker) SetActive(name string) {
	if name == "" {
		d.Clear()
		return
	}
	d.name = name
	d.active = true
}

// Clear forgets the active document.
func (d *DocumentTracker) Clear() {
	d.name = ""
	d.active = false
}

// Active returns the active document name and whether one is set.
func (d *DocumentTracker) Active() (string, bool) {
	return d.name, d.active
}

// CanStage reports whether a new attachment may be staged. Only one context
// source is allowed at a time.
func (d *DocumentTracker) CanStage() bool {
	return !d.active
}
