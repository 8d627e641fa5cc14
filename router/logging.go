package router

import "amm-indexer/logger"

var zlog = logger.Package("router")
