package controller

import (
	"log"

	"github.com/sweeney/smart-watering/internal/broadcast"
	"github.com/sweeney/smart-watering/internal/gpio"
)

// FollowPump drives ind from the pump state carried by obs until obs is
// closed. Sensor messages are ignored; the line is only written on change.
func FollowPump(obs *broadcast.Observer, ind gpio.Indicator) {
	var last, known bool
	for m := range obs.C {
		if m.Event == broadcast.EventSensors {
			continue
		}
		on := m.State.PumpOn
		if known && on == last {
			continue
		}
		if err := ind.Set(on); err != nil {
			log.Printf("gpio: indicator: %v", err)
			continue
		}
		last, known = on, true
	}
}
