package applier

import (
	"context"
	"fmt"
	"sync"

	"github.com/headline-goat/splitpage/internal/settings"
)

// Recorder is an Injector that only writes down what it was asked to do. The CLI uses it
// to report the outcome of a simulated page load.
type Recorder struct {
	mu      sync.Mutex
	actions []string
	fail    map[int]error
}

func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[int]error)}
}

// FailOn makes Apply return err for experiment id.
func (r *Recorder) FailOn(id int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[id] = err
}

func (r *Recorder) Apply(_ context.Context, exp settings.ExperimentSummary, alternative int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[exp.ID]; err != nil {
		return err
	}
	r.actions = append(r.actions, fmt.Sprintf("apply %d:%d", exp.ID, alternative))
	return nil
}

func (r *Recorder) Redirect(target string)     { r.add("redirect " + target) }
func (r *Recorder) ShowOriginal(target string) { r.add("original " + target) }
func (r *Recorder) RemoveOverlay()             { r.add("remove-overlay") }
func (r *Recorder) Reload()                    { r.add("reload") }

// Actions returns everything recorded so far, in order.
func (r *Recorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actions...)
}

func (r *Recorder) add(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}
