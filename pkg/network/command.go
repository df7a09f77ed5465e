package network

// Command is a message accepted by the network actor.
type Command interface {
	networkCommand()
}

// Color is a halved color sensor reading to report to the controller. The
// battery charge is sent along with it.
type Color struct {
	R, G, B uint8
}

// Stop ends the actor.
type Stop struct{}

func (Color) networkCommand() {}
func (Stop) networkCommand()  {}
