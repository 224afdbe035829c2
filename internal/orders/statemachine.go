package orders

import (
	"errors"
	"fmt"
)

// Action is a named move in the negotiation.
type Action string

const (
	ActionAccept        Action = "accept"
	ActionReject        Action = "reject"
	ActionSellerTimeout Action = "seller-timeout"
	ActionAgree         Action = "agree"
	ActionDecline       Action = "decline"
	ActionFoodieTimeout Action = "foodie-timeout"
	ActionStartCooking  Action = "start-cooking"
	ActionComplete      Action = "complete"
	ActionCancel        Action = "cancel"
)

// Role identifies who drives a transition.
type Role string

const (
	RoleFoodie Role = "foodie"
	RoleSeller Role = "seller"
	RoleSystem Role = "system"
)

// ErrInvalidTransition is returned when no edge exists for (state, action).
var ErrInvalidTransition = errors.New("invalid transition")

type edge struct {
	from   Status
	action Action
}

var transitions = map[edge]Status{
	{StatusCreated, ActionAccept}:            StatusAccepted,
	{StatusCreated, ActionReject}:            StatusRejected,
	{StatusCreated, ActionSellerTimeout}:     StatusTimeoutSeller,
	{StatusAccepted, ActionAgree}:            StatusFoodieAgreed,
	{StatusAccepted, ActionDecline}:          StatusFoodieDeclined,
	{StatusAccepted, ActionFoodieTimeout}:    StatusTimeoutFoodie,
	{StatusFoodieAgreed, ActionStartCooking}: StatusCooking,
	{StatusCooking, ActionComplete}:          StatusCompleted,
	{StatusFoodieAgreed, ActionCancel}:       StatusCancelled,
	{StatusCooking, ActionCancel}:            StatusCancelled,
}

var actionRoles = map[Action]Role{
	ActionAccept:        RoleSeller,
	ActionReject:        RoleSeller,
	ActionSellerTimeout: RoleSystem,
	ActionAgree:         RoleFoodie,
	ActionDecline:       RoleFoodie,
	ActionFoodieTimeout: RoleSystem,
	ActionStartCooking:  RoleSeller,
	ActionComplete:      RoleSeller,
	ActionCancel:        RoleFoodie,
}

// actionOrder fixes the order ActionsFor reports in.
var actionOrder = []Action{
	ActionAccept, ActionReject, ActionSellerTimeout,
	ActionAgree, ActionDecline, ActionFoodieTimeout,
	ActionStartCooking, ActionComplete, ActionCancel,
}

// Next returns the state reached by applying action from the given state.
func Next(from Status, action Action) (Status, error) {
	to, ok := transitions[edge{from, action}]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, from)
	}
	return to, nil
}

// RoleFor reports which role may drive action. Unknown actions report "".
func RoleFor(action Action) Role {
	return actionRoles[action]
}

// Sources lists the states action may be applied from.
func Sources(action Action) []Status {
	var out []Status
	for _, s := range AllStatuses() {
		if _, ok := transitions[edge{s, action}]; ok {
			out = append(out, s)
		}
	}
	return out
}

// ActionsFor lists what role may do to an order sitting in status. The presentation
// layer uses it to decide which buttons to show.
func ActionsFor(status Status, role Role) []Action {
	out := []Action{}
	for _, a := range actionOrder {
		if actionRoles[a] != role {
			continue
		}
		if _, ok := transitions[edge{status, a}]; ok {
			out = append(out, a)
		}
	}
	return out
}

// AllStatuses returns every state in declaration order.
func AllStatuses() []Status {
	return []Status{
		StatusCreated, StatusAccepted, StatusRejected, StatusTimeoutSeller,
		StatusFoodieAgreed, StatusFoodieDeclined, StatusTimeoutFoodie,
		StatusCooking, StatusCompleted, StatusCancelled,
	}
}

// Valid reports whether s is a known state.
func (s Status) Valid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusTimeoutSeller, StatusFoodieDeclined,
		StatusTimeoutFoodie, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// HasToken reports whether an order in s carries a pickup token.
func (s Status) HasToken() bool {
	switch s {
	case StatusFoodieAgreed, StatusCooking, StatusCompleted:
		return true
	}
	return false
}

// HistoryStatuses are the states shown in a buyer's order history.
func HistoryStatuses() []Status {
	return []Status{StatusCompleted, StatusCancelled}
}
