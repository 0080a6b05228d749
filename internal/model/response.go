package model

// Response is a token the agent publishes on the response topic.
type Response string

const (
	ResponseAlreadyOn Response = "/al_on"
	ResponseWakeSent  Response = "/wol_sent"
	ResponseWakeOK    Response = "/wol_ok"
	ResponseWakeFail  Response = "/wol_fail"
	ResponsePingOK    Response = "/ping_ok"
	ResponsePingFail  Response = "/ping_fail"
)

// StatusInfoPrefix starts a status record: "/stat_info {...json...}".
const StatusInfoPrefix = "/stat_info"
