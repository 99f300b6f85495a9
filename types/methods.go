package types

// Request methods (client to server).
const (
	MethodHandshake         = "a2a.handshake"
	MethodDiscover          = "a2a.discover"
	MethodGetInfo           = "a2a.getInfo"
	MethodGetMarketData     = "a2a.getMarketData"
	MethodGetMarketPrices   = "a2a.getMarketPrices"
	MethodSubscribeMarket   = "a2a.subscribeMarket"
	MethodUnsubscribeMarket = "a2a.unsubscribeMarket"
	MethodProposeCoalition  = "a2a.proposeCoalition"
	MethodJoinCoalition     = "a2a.joinCoalition"
	MethodCoalitionMessage  = "a2a.coalitionMessage"
	MethodLeaveCoalition    = "a2a.leaveCoalition"
	MethodShareAnalysis     = "a2a.shareAnalysis"
	MethodRequestAnalysis   = "a2a.requestAnalysis"
	MethodGetAnalyses       = "a2a.getAnalyses"
	MethodPaymentRequest    = "a2a.paymentRequest"
	MethodPaymentReceipt    = "a2a.paymentReceipt"
)

// Notification methods (server to client).
const (
	NotifyMarketUpdate          = "a2a.marketUpdate"
	NotifyCoalitionMessage      = "a2a.coalitionMessage"
	NotifyCoalitionMemberJoined = "a2a.coalitionMemberJoined"
	NotifyCoalitionMemberLeft   = "a2a.coalitionMemberLeft"
	NotifyAnalysisShared        = "a2a.analysisShared"
	NotifyAnalysisRequested     = "a2a.analysisRequested"
	NotifyAgentConnected        = "a2a.agentConnected"
	NotifyAgentDisconnected     = "a2a.agentDisconnected"
	NotifyPaymentRequested      = "a2a.paymentRequested"
	NotifyPaymentReceived       = "a2a.paymentReceived"
)
