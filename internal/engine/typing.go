package engine

import "time"

// typingDebouncer bounds typing chattiness to at most one "started" and one
// "stopped" signal per burst. The quiet-window timer resets on every
// keystroke; on expiry it posts the stop back into the consumer loop so all
// state stays single-owner.
type typingDebouncer struct {
	window time.Duration
	post   func(func()) error
	start  func()
	stop   func()

	active bool
	timer  *time.Timer
}

func newTypingDebouncer(window time.Duration, post func(func()) error, start, stop func()) *typingDebouncer {
	return &typingDebouncer{
		window: window,
		post:   post,
		start:  start,
		stop:   stop,
	}
}

// keystroke is called from the consumer loop on every local keystroke
func (d *typingDebouncer) keystroke() {
	if !d.active {
		d.active = true
		d.start()
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.expire)
}

// expire fires on the timer goroutine and re-enters the loop via post
func (d *typingDebouncer) expire() {
	_ = d.post(func() {
		if d.active {
			d.active = false
			d.stop()
		}
	})
}

// flush emits the stop immediately; called from the loop on teardown or
// when the user sends the message they were typing.
func (d *typingDebouncer) flush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.active {
		d.active = false
		d.stop()
	}
}
