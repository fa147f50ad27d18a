package booking

import "homepro/models"

type edge struct {
	from models.BookingStatus
	to   models.BookingStatus
}

var parties = []models.Role{models.RoleCustomer, models.RolePro}

// transitions lists every legal edge with the roles allowed to take it.
var transitions = map[edge][]models.Role{
	{models.StatusRequested, models.StatusAccepted}: {models.RolePro},
	{models.StatusRequested, models.StatusDeclined}: {models.RolePro},

	{models.StatusRequested, models.StatusCancelled}:  parties,
	{models.StatusAccepted, models.StatusCancelled}:   parties,
	{models.StatusOnTheWay, models.StatusCancelled}:   parties,
	{models.StatusInProgress, models.StatusCancelled}: parties,

	{models.StatusAccepted, models.StatusOnTheWay}:   {models.RolePro},
	{models.StatusOnTheWay, models.StatusInProgress}: {models.RolePro},

	{models.StatusAccepted, models.StatusCompletedPendingPayment}:   {models.RolePro},
	{models.StatusOnTheWay, models.StatusCompletedPendingPayment}:   {models.RolePro},
	{models.StatusInProgress, models.StatusCompletedPendingPayment}: {models.RolePro},

	{models.StatusCompletedPendingPayment, models.StatusPaid}: {models.RoleSystem},
}

// authorizable are the statuses in which a customer may place a hold.
var authorizable = []models.BookingStatus{
	models.StatusAccepted,
	models.StatusOnTheWay,
	models.StatusInProgress,
	models.StatusCompletedPendingPayment,
}

// HasEdge reports whether from -> to exists for any role.
func HasEdge(from, to models.BookingStatus) bool {
	_, ok := transitions[edge{from, to}]
	return ok
}

// CanTransition reports whether role may move a booking from -> to.
func CanTransition(from, to models.BookingStatus, role models.Role) bool {
	for _, r := range transitions[edge{from, to}] {
		if r == role {
			return true
		}
	}
	return false
}

// NextStatuses lists the targets role may choose from the given status.
func NextStatuses(from models.BookingStatus, role models.Role) []models.BookingStatus {
	var out []models.BookingStatus
	for _, to := range []models.BookingStatus{
		models.StatusAccepted,
		models.StatusDeclined,
		models.StatusOnTheWay,
		models.StatusInProgress,
		models.StatusCompletedPendingPayment,
		models.StatusPaid,
		models.StatusCancelled,
	} {
		if CanTransition(from, to, role) {
			out = append(out, to)
		}
	}
	return out
}

func isAuthorizable(s models.BookingStatus) bool {
	for _, v := range authorizable {
		if v == s {
			return true
		}
	}
	return false
}
