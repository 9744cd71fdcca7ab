package models

// Identifier is implemented by every persisted model with an integer primary
// key; batch helpers use it to key result maps.
type Identifier interface {
	GetId() int
}

func CollectIds[T Identifier](items []T) []int {
	ids := make([]int, len(items))
	for i, item := range items {
		ids[i] = item.GetId()
	}
	return ids
}
