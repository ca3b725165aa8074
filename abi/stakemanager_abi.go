package abi

// StakeManagerABI is the subset of the StakeManager contract ABI the
// indexer reads: the three staking events, registerClaim and getPendingClaim.
const StakeManagerABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "nodeID", "type": "bytes32"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "staker", "type": "address"},
			{"indexed": false, "internalType": "address", "name": "returnAddr", "type": "address"}
		],
		"name": "Staked",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "nodeID", "type": "bytes32"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
			{"indexed": false, "internalType": "address", "name": "staker", "type": "address"},
			{"indexed": false, "internalType": "uint48", "name": "startTime", "type": "uint48"},
			{"indexed": false, "internalType": "uint48", "name": "expiryTime", "type": "uint48"}
		],
		"name": "ClaimRegistered",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "nodeID", "type": "bytes32"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "ClaimExecuted",
		"type": "event"
	},
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "keyManAddr", "type": "address"},
					{"internalType": "uint256", "name": "chainID", "type": "uint256"},
					{"internalType": "uint256", "name": "msgHash", "type": "uint256"},
					{"internalType": "uint256", "name": "sig", "type": "uint256"},
					{"internalType": "uint256", "name": "nonce", "type": "uint256"},
					{"internalType": "address", "name": "kTimesGAddr", "type": "address"}
				],
				"internalType": "struct IShared.SigData",
				"name": "sigData",
				"type": "tuple"
			},
			{"internalType": "bytes32", "name": "nodeID", "type": "bytes32"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "address", "name": "staker", "type": "address"},
			{"internalType": "uint48", "name": "expiryTime", "type": "uint48"}
		],
		"name": "registerClaim",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "nodeID", "type": "bytes32"}
		],
		"name": "getPendingClaim",
		"outputs": [
			{
				"components": [
					{"internalType": "uint256", "name": "amount", "type": "uint256"},
					{"internalType": "address", "name": "staker", "type": "address"},
					{"internalType": "uint48", "name": "startTime", "type": "uint48"},
					{"internalType": "uint48", "name": "expiryTime", "type": "uint48"}
				],
				"internalType": "struct IStakeManager.Claim",
				"name": "",
				"type": "tuple"
			}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`
