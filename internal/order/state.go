package order

import "github.com/utrading/utrading-copy-trader/internal/models"

// transitions 合法的状态迁移，终态没有出边
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending: {
		models.OrderStatusSubmitted,
		models.OrderStatusCancelled,
	},
	models.OrderStatusSubmitted: {
		models.OrderStatusFilled,
		models.OrderStatusPartiallyFilled,
		models.OrderStatusFailed,
		models.OrderStatusExpired,
		models.OrderStatusCancelled,
	},
	models.OrderStatusPartiallyFilled: {
		models.OrderStatusFilled,
		models.OrderStatusFailed,
		models.OrderStatusExpired,
		models.OrderStatusCancelled,
	},
}

// CanTransition 判断 from -> to 是否合法，相同状态视为合法的空操作
func CanTransition(from, to models.OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
