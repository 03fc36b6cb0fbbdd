package evm

// htlcABI is the fragment of the HTLC contract the adapter touches.
const htlcABI = `[
  {
    "type": "function",
    "name": "lock",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "receiver", "type": "address"},
      {"name": "token", "type": "address"},
      {"name": "amount", "type": "uint256"},
      {"name": "minFill", "type": "uint256"},
      {"name": "hashlock", "type": "bytes32"},
      {"name": "timelock", "type": "uint256"}
    ],
    "outputs": [{"name": "id", "type": "bytes32"}]
  },
  {
    "type": "function",
    "name": "claim",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "id", "type": "bytes32"},
      {"name": "secret", "type": "bytes32"},
      {"name": "amount", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "refund",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "id", "type": "bytes32"}],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getLock",
    "stateMutability": "view",
    "inputs": [{"name": "id", "type": "bytes32"}],
    "outputs": [
      {"name": "sender", "type": "address"},
      {"name": "receiver", "type": "address"},
      {"name": "amount", "type": "uint256"},
      {"name": "remaining", "type": "uint256"},
      {"name": "hashlock", "type": "bytes32"},
      {"name": "timelock", "type": "uint256"},
      {"name": "claimed", "type": "bool"},
      {"name": "refunded", "type": "bool"}
    ]
  },
  {
    "type": "event",
    "name": "Locked",
    "inputs": [
      {"name": "id", "type": "bytes32", "indexed": true},
      {"name": "sender", "type": "address", "indexed": false},
      {"name": "receiver", "type": "address", "indexed": false},
      {"name": "token", "type": "address", "indexed": false},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "minFill", "type": "uint256", "indexed": false},
      {"name": "hashlock", "type": "bytes32", "indexed": false},
      {"name": "timelock", "type": "uint256", "indexed": false},
      {"name": "destLedger", "type": "string", "indexed": false},
      {"name": "destReceiver", "type": "string", "indexed": false},
      {"name": "destAsset", "type": "string", "indexed": false},
      {"name": "destAmount", "type": "uint256", "indexed": false},
      {"name": "destHashlock", "type": "bytes32", "indexed": false},
      {"name": "destTimelock", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "Claimed",
    "inputs": [
      {"name": "id", "type": "bytes32", "indexed": true},
      {"name": "secret", "type": "bytes32", "indexed": false},
      {"name": "amount", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "Refunded",
    "inputs": [
      {"name": "id", "type": "bytes32", "indexed": true}
    ]
  }
]`
