package protocol

import "agentcraft.ai/internal/agent/ports"

func Need(kind string) Message { return Message{Tag: TagNeed, Kind: kind} }

func CanProvide(kind string, items []ports.ItemCount, steps int) Message {
	return Message{Tag: TagCanProvide, Kind: kind, Items: items, Steps: steps}
}

func AcceptProvider(kind, providerID string) Message {
	return Message{Tag: TagAcceptProvider, Kind: kind, ProviderID: providerID}
}

func ProvideAt(kind string, pos ports.Vec3, items []ports.ItemCount) Message {
	return Message{Tag: TagProvideAt, Kind: kind, Pos: pos, Items: items}
}

func NeedFulfilled(kind string) Message { return Message{Tag: TagNeedFulfilled, Kind: kind} }
