package services

import "udensfiltri/internal/models"

// Допустимые переходы статусов заказа. paid и cancelled финальные.
var OrderTransitions = map[models.OrderStatus]map[models.OrderStatus]bool{
	models.OrderCreated:   {models.OrderPaid: true, models.OrderCancelled: true},
	models.OrderPaid:      {},
	models.OrderCancelled: {},
}

func canTransition(current, to models.OrderStatus) bool {
	nexts, ok := OrderTransitions[current]
	if !ok {
		return false
	}
	return nexts[to]
}
