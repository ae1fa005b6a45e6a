package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderItemsChanged  = "order.items.changed"
	TopicOrderStatusChanged = "order.status.changed"
	TopicOrderDeleted       = "order.deleted"
	TopicStockAdjusted      = "inventory.stock.adjusted"
	TopicStockWarning       = "inventory.stock.warning"
	TopicProductChanged     = "inventory.product.changed"
	TopicCatalogUpdates     = "catalog.product.updated"
)

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// TopicFor routes an engine event type to its topic.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated
	case EventItemAdded, EventItemUpdated, EventItemRemoved, EventDiscountChanged:
		return TopicOrderItemsChanged
	case EventStatusChanged:
		return TopicOrderStatusChanged
	case EventOrderDeleted:
		return TopicOrderDeleted
	case EventStockAdjusted:
		return TopicStockAdjusted
	case EventStockWarning:
		return TopicStockWarning
	case EventProductChanged:
		return TopicProductChanged
	}
	return ""
}
