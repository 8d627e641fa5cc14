package indexer

import "amm-indexer/logger"

var zlog = logger.Package("indexer")
