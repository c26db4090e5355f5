package mediaproxy

import "sync"

// sessionRegistry counts live sessions per origin url and range
type sessionRegistry struct {
	mutex    sync.Mutex
	sessions map[string]int
	total    int
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: map[string]int{}}
}

// register records a new session for key and returns the function that removes it again, along with
// the number of live sessions for key including this one. The returned function is safe to call more
// than once.
func (r *sessionRegistry) register(key string) (func(), int) {
	r.mutex.Lock()
	r.sessions[key]++
	r.total++
	concurrent := r.sessions[key]
	r.mutex.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mutex.Lock()
			defer r.mutex.Unlock()

			r.sessions[key]--
			if r.sessions[key] <= 0 {
				delete(r.sessions, key)
			}
			r.total--
		})
	}
	return release, concurrent
}

func (r *sessionRegistry) active() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.total
}
