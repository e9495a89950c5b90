package application

// DiscoveryTopic is where Home Assistant expects a retained config payload.
func DiscoveryTopic(discoveryPrefix, component, objectID string) string {
	return discoveryPrefix + "/" + component + "/" + objectID + "/config"
}

// DeviceID identifies a device inside one bridge's operating namespace.
func DeviceID(component, objectID string) string {
	return component + "_" + objectID
}

func StateTopic(operatingPrefix, bridgeName, deviceID string) string {
	return operatingPrefix + "/" + bridgeName + "/" + deviceID + "/state"
}

func CommandTopic(operatingPrefix, bridgeName, deviceID string) string {
	return operatingPrefix + "/" + bridgeName + "/" + deviceID + "/set"
}

// OperatingWildcard matches every topic a bridge's devices publish or listen on.
func OperatingWildcard(operatingPrefix, bridgeName string) string {
	return operatingPrefix + "/" + bridgeName + "/#"
}
